package pathing

import (
	"log"
	"os"
	"path/filepath"
)

// Ensure directories exist on startup
func init() {
	// Directories that must exist:
	dirs := []string{
		GetDataDir(),
		GetConfigDir(),
	}

	// Create all directories
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			err := os.MkdirAll(dir, 0755)
			if err != nil {
				log.Fatal(err)
			}
		}
	}
}

func GetMeterDbPath() string {
	// Join path
	return filepath.Join(GetDataDir(), "campus-energy.db")
}

// Where the register scanner drops its CSV output.
func GetScanDumpPath(filename string) string {
	return filepath.Join(GetDataDir(), filename)
}

func GetDataDir() string {
	return "/var/lib/campus_energy_meter"
}

func GetConfigDir() string {
	return "/etc/campus_energy_meter"
}
