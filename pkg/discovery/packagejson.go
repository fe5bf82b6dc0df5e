package discovery

import (
	"encoding/json"
	"os"
)

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// readPackageJSONDeps returns the union of dependencies and devDependencies
// declared in a package.json file, or nil if the file is missing or
// unparseable — metadata extraction degrades gracefully rather than failing.
func readPackageJSONDeps(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	deps := make(map[string]string, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for k, v := range pkg.Dependencies {
		deps[k] = v
	}
	for k, v := range pkg.DevDependencies {
		if _, ok := deps[k]; !ok {
			deps[k] = v
		}
	}
	return deps
}
