package common

var (
	// Version is set at build time with -ldflags "-X ...common.Version=..."
	Version = "dev"

	// PackageName is used as the metrics namespace and in log attributes.
	PackageName = "ledger-factory-backend"
)
