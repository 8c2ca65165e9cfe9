package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const miscInfoFile = "misc_info.json"

// miscInfo is the conversation's persistent memory-pressure state. The
// two "already" latches stop the step loop from nagging the model with
// the same notice every turn; MemoryWriteFunctionForced is the actual
// dispatch gate and is set by both pressure paths.
type miscInfo struct {
	MemoryPressureWarningAlrGiven         bool `json:"memory_pressure_warning_alr_given"`
	ConsciousMemoryWriteAlrForced         bool `json:"conscious_memory_write_alr_forced"`
	MessagesSinceLastConsciousMemoryWrite int  `json:"messages_since_last_conscious_memory_write"`
	MemoryWriteFunctionForced             bool `json:"memory_write_function_forced"`
}

func loadMiscInfo(dir string) (miscInfo, error) {
	var mi miscInfo
	data, err := os.ReadFile(filepath.Join(dir, miscInfoFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &mi); err != nil {
			return mi, fmt.Errorf("parse misc info: %w", err)
		}
		return mi, nil
	case os.IsNotExist(err):
		return mi, mi.persist(dir)
	default:
		return mi, fmt.Errorf("read misc info: %w", err)
	}
}

func (mi miscInfo) persist(dir string) error {
	data, err := json.Marshal(mi)
	if err != nil {
		return fmt.Errorf("marshal misc info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, miscInfoFile), data, 0644); err != nil {
		return fmt.Errorf("write misc info: %w", err)
	}
	return nil
}
