package bench

import (
	"os"

	"github.com/tidwall/gjson"
)

// headlineKeys are well-known summary fields the workload generator may
// include in its artifact. They decorate the human report when present;
// the harness never validates or depends on them.
var headlineKeys = []string{
	"summary.upload_bps",
	"summary.download_bps",
	"summary.ttfb_ms.p50",
	"summary.ttfb_ms.p90",
	"summary.circuits_built",
	"summary.streams",
}

// Headline extracts the well-known summary fields found in the artifact.
// Any read or parse problem yields an empty map; the artifact's contents
// are the generator's concern, not ours.
func Headline(artifactPath string) map[string]string {
	data, err := os.ReadFile(artifactPath)
	if err != nil || !gjson.ValidBytes(data) {
		return nil
	}

	found := make(map[string]string)
	for _, key := range headlineKeys {
		if res := gjson.GetBytes(data, key); res.Exists() {
			found[key] = res.String()
		}
	}
	if len(found) == 0 {
		return nil
	}
	return found
}
