package version

var (
	AppName    = "Groovebot"
	AppVersion = "0.3.0"
)
