package zicklaabot

// Set at build time via -ldflags.
var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)
