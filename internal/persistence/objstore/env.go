package objstore

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// MirrorFromEnv builds a Mirror from SPACEGAME_MIRROR_* variables. It returns nil when
// SPACEGAME_MIRROR is unset or false.
func MirrorFromEnv(dataDir string, logger *log.Logger) (*Mirror, error) {
	return mirrorFromEnv(os.Getenv, dataDir, logger)
}

func mirrorFromEnv(getenv func(string) string, dataDir string, logger *log.Logger) (*Mirror, error) {
	on, _ := strconv.ParseBool(strings.TrimSpace(getenv("SPACEGAME_MIRROR")))
	if !on {
		return nil, nil
	}
	c, err := New(Config{
		Endpoint:  getenv("SPACEGAME_MIRROR_ENDPOINT"),
		Bucket:    getenv("SPACEGAME_MIRROR_BUCKET"),
		Region:    getenv("SPACEGAME_MIRROR_REGION"),
		AccessKey: strings.TrimSpace(getenv("SPACEGAME_MIRROR_ACCESS_KEY_ID")),
		SecretKey: strings.TrimSpace(getenv("SPACEGAME_MIRROR_SECRET_ACCESS_KEY")),
	})
	if err != nil {
		return nil, fmt.Errorf("SPACEGAME_MIRROR=true: %w", err)
	}
	workers := 2
	if v := strings.TrimSpace(getenv("SPACEGAME_MIRROR_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SPACEGAME_MIRROR_WORKERS: %w", err)
		}
		workers = n
	}
	return NewMirror(c, dataDir, getenv("SPACEGAME_MIRROR_PREFIX"), workers, logger), nil
}
