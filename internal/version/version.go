package version

import "fmt"

// Releases are named after the flock; the major version picks the name.
var flock = []string{
	"wren",
	"robin",
	"finch",
	"lark",
	"swift",
	"heron",
	"kestrel",
	"plover",
}

const (
	APIMajor = 0
	APIMinor = 1
	APIPatch = 0
)

// Commit is set at build time with -ldflags "-X .../version.Commit=...".
var Commit = "dev"

func APICodename() string {
	if APIMajor < len(flock) {
		return flock[APIMajor]
	}
	return fmt.Sprintf("post-flock-%d", APIMajor)
}

func API() string {
	return fmt.Sprintf("%s-%d.%d.%d", APICodename(), APIMajor, APIMinor, APIPatch)
}

func APIShort() string {
	return fmt.Sprintf("%s-%d.%d", APICodename(), APIMajor, APIMinor)
}

func Full() string {
	return fmt.Sprintf("%s (%s)", API(), Commit)
}
