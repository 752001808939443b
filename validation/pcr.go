package validation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/cipherbid/enclaveapi"
)

// LoadPCRsFromFile loads known PCR sets from a YAML or JSON file.
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	// JSON is a subset of YAML, so one decoder covers both.
	var config PCRConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}

	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file")
	}
	return config.PCRSets, nil
}

// ValidatePCRs returns the index of the known set pcrs match, or -1.
func ValidatePCRs(pcrs enclaveapi.PCRs, knownSets []PCRSet) (bool, int) {
	for i, knownSet := range knownSets {
		if pcrs.ImageFileHash == knownSet.PCR0 &&
			pcrs.KernelHash == knownSet.PCR1 &&
			pcrs.ApplicationHash == knownSet.PCR2 {
			return true, i
		}
	}
	return false, -1
}
