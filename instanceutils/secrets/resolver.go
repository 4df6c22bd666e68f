package secrets

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ruteri/helix-container/interfaces"
)

// DefaultLength is the length of generated passwords.
const DefaultLength = 24

// alphabet avoids quotes, backslashes and shell metacharacters so the secret
// survives the SDP scripts and template substitution unescaped.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789@%+=_-"

// Source names where a resolved secret came from.
type Source string

const (
	SourceExplicit  Source = "explicit"
	SourceStore     Source = "store"
	SourceGenerated Source = "generated"
)

// Secret is a resolved password.
type Secret struct {
	Value  string
	Source Source
}

// Generated reports whether the secret was created during this resolution.
func (s *Secret) Generated() bool { return s.Source == SourceGenerated }

// String never renders the value.
func (s *Secret) String() string { return "secret(" + string(s.Source) + ")" }

type Resolver struct {
	// Explicit takes precedence over the store.
	Explicit string
	Store    interfaces.SecretStore
	Length   int
	Log      *slog.Logger
}

// Resolve returns the explicit value, then the stored value, then a freshly
// generated and stored one. An explicit value is written to the store when it differs.
func (r *Resolver) Resolve(ctx context.Context) (*Secret, error) {
	var stored string
	var loadErr error
	if r.Store != nil {
		stored, loadErr = r.Store.Load(ctx)
		if loadErr != nil && !errors.Is(loadErr, interfaces.ErrContentNotFound) {
			r.Log.Warn("could not load stored secret", "store", r.Store.Name(), "err", loadErr)
		}
	}

	if r.Explicit != "" {
		if r.Store != nil && stored != r.Explicit {
			if err := r.Store.Save(ctx, r.Explicit); err != nil {
				r.Log.Warn("could not persist explicit secret", "store", r.Store.Name(), "err", err)
			}
		}
		return &Secret{Value: r.Explicit, Source: SourceExplicit}, nil
	}

	if loadErr == nil && stored != "" {
		r.Log.Debug("using stored secret", "store", r.Store.Name())
		return &Secret{Value: stored, Source: SourceStore}, nil
	}
	if loadErr != nil && !errors.Is(loadErr, interfaces.ErrContentNotFound) {
		// A store that failed to load is never overwritten.
		return nil, fmt.Errorf("secret store %s unreadable: %w", r.Store.Name(), loadErr)
	}

	value, err := Generate(r.Length)
	if err != nil {
		return nil, err
	}
	if r.Store != nil {
		if err := r.Store.Save(ctx, value); err != nil {
			return nil, fmt.Errorf("could not store generated secret in %s: %w", r.Store.Name(), err)
		}
	}
	return &Secret{Value: value, Source: SourceGenerated}, nil
}

// Lookup returns the explicit or stored secret without ever generating one.
// It returns interfaces.ErrContentNotFound when neither is available.
func (r *Resolver) Lookup(ctx context.Context) (*Secret, error) {
	if r.Explicit != "" {
		return &Secret{Value: r.Explicit, Source: SourceExplicit}, nil
	}
	if r.Store == nil {
		return nil, interfaces.ErrContentNotFound
	}
	stored, err := r.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &Secret{Value: stored, Source: SourceStore}, nil
}

// Generate returns a random password of length n (DefaultLength when n <= 0).
func Generate(n int) (string, error) {
	if n <= 0 {
		n = DefaultLength
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("could not generate secret: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// Banner logs a generated secret once, clearly marked, so the operator can record it.
func Banner(log *slog.Logger, user string, s *Secret) {
	if !s.Generated() {
		return
	}
	log.Warn("==== GENERATED SUPER USER PASSWORD, RECORD IT NOW ====", "user", user, "password", s.Value)
}
