package credential

import (
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// LoadDir reads every *.json credential file under dir. A missing
// directory yields an empty slice; unparseable files are skipped with a
// warning so one bad file never blocks a batch.
func LoadDir(dir string) ([]Credential, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", dir).Info("credentials directory not found; skipping load")
			return nil, nil
		}
		return nil, err
	}

	var creds []Credential
	for _, entry := range entries {
		if entry.IsDir() || !isJSONFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		cred, err := loadFile(path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("failed to load credential file")
			continue
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func loadFile(path string) (Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credential{}, err
	}
	return Parse(data)
}

func isJSONFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}
