package migration

import (
	"strings"
)

// DefaultResourcePools maps each os class to the destination compute cluster.
var DefaultResourcePools = map[OsClass]string{
	OsClassWindows: "windows_cluster",
	OsClassLinux:   "linux_cluster",
	OsClassSQL:     "sql_cluster",
}

// ResourcePools resolves an os class to a cluster name. Overrides replace single
// entries of the default table; they never extend the enumeration.
type ResourcePools map[OsClass]string

func NewResourcePools(overrides map[string]string) ResourcePools {
	p := ResourcePools{}
	for k, v := range DefaultResourcePools {
		p[k] = v
	}
	for k, v := range overrides {
		if c := ParseOsClass(k); c != OsClassUnknown && v != "" {
			p[c] = v
		}
	}
	return p
}

func (p ResourcePools) Lookup(c OsClass) (string, bool) {
	if c == OsClassUnknown {
		return "", false
	}
	name, ok := p[c]
	return name, ok
}

// BackupKey is the metadata key derived from a source label. BackupKeyUnmapped means
// no metadata step runs.
type BackupKey string

const (
	BackupKey1        BackupKey = "Backup_1"
	BackupKey2        BackupKey = "Backup_2"
	BackupKey3        BackupKey = "Backup_3"
	BackupKeyUnmapped BackupKey = ""
)

var backupKeys = map[string]BackupKey{
	"tag1": BackupKey1,
	"tag2": BackupKey2,
	"tag3": BackupKey3,
}

// ClassifyTag is total over any label: labels outside the table are unmapped.
func ClassifyTag(label string) BackupKey {
	if k, ok := backupKeys[strings.ToLower(strings.TrimSpace(label))]; ok {
		return k
	}
	return BackupKeyUnmapped
}
