// Package storage provides content-addressed offsite storage for backup artifacts.
//
// Artifacts (checkpoints, manifests) are identified by the SHA-256 of their
// content and streamed to one or more backends:
//
//   - file:///mnt/offsite/helix
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-west-1[&endpoint=https://minio:9000]
//   - ipfs://127.0.0.1:5001/helix
//
// Without credentials in the URI the S3 backend uses the default AWS credential
// chain. MultiStorageBackend writes to every available backend and reads from
// the first that has the content.
package storage
