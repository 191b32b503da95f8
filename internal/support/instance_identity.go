package support

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

const envInstanceID = "SHROUD_INSTANCE_ID"

var (
	instanceIDOnce  sync.Once
	instanceIDValue string
)

// GetInstanceID names this process on shared channels such as the redis relay.
func GetInstanceID() string {
	instanceIDOnce.Do(func() {
		value := strings.TrimSpace(GetEnv(envInstanceID, ""))
		if value == "" {
			hostname, _ := os.Hostname()
			value = fmt.Sprintf("%s-%d-%d", strings.TrimSpace(hostname), os.Getpid(), time.Now().UnixNano())
		}
		instanceIDValue = value
	})
	return instanceIDValue
}
