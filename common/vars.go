package common

// Version is overridden at build time with -ldflags "-X ...common.Version=<tag>".
var Version = "dev"

// PackageName is used as the Prometheus namespace and as the default log service tag.
const PackageName = "helix_container"
