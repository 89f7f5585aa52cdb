package version

var (
	GitCommit = "HEAD"
	Version   = "v0.0.0-dev"
)

func FriendlyVersion() string {
	return Version + " (" + GitCommit + ")"
}
