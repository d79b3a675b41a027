package storage

import (
	"fmt"
	"strings"

	"github.com/poiesic/kbingest/core"
)

// Key layout of the knowledge base store.
const (
	kbPrefix        = "/kbs/"
	partitionPrefix = "/partitions/"
	lockPrefix      = "/locks/"

	// KBSlugsPrefix holds one key per registered knowledge box.
	KBSlugsPrefix = "/kbslugs/"
)

// KBPrefix is the prefix of every key belonging to a knowledge box.
func KBPrefix(kbid string) string {
	return kbPrefix + kbid + "/"
}

// KBConfigKey stores the knowledge box configuration.
func KBConfigKey(kbid string) string {
	return fmt.Sprintf("/kbs/%s/config", kbid)
}

// KBSlugIndexKey maps a knowledge box slug to its id.
func KBSlugIndexKey(slug string) string {
	return KBSlugsPrefix + slug
}

// KBShardsKey stores the shard list of a knowledge box.
func KBShardsKey(kbid string) string {
	return fmt.Sprintf("/kbs/%s/shards", kbid)
}

// ResourceSlugKey maps a resource slug to its uuid.
func ResourceSlugKey(kbid, slug string) string {
	return fmt.Sprintf("/kbs/%s/s/%s", kbid, slug)
}

// ResourcesPrefix is the prefix of every resource key of a knowledge box.
func ResourcesPrefix(kbid string) string {
	return fmt.Sprintf("/kbs/%s/r/", kbid)
}

// ResourceBasicKey stores the resource's basic record.
func ResourceBasicKey(kbid, uuid string) string {
	return fmt.Sprintf("/kbs/%s/r/%s", kbid, uuid)
}

// ResourcePrefix is the prefix of every nested key of a resource.
// It does not match the basic key itself.
func ResourcePrefix(kbid, uuid string) string {
	return ResourceBasicKey(kbid, uuid) + "/"
}

// ResourceOriginKey stores the resource's origin.
func ResourceOriginKey(kbid, uuid string) string {
	return ResourcePrefix(kbid, uuid) + "origin"
}

// ResourceExtraKey stores the resource's extra metadata.
func ResourceExtraKey(kbid, uuid string) string {
	return ResourcePrefix(kbid, uuid) + "extra"
}

// ResourceSecurityKey stores the resource's security groups.
func ResourceSecurityKey(kbid, uuid string) string {
	return ResourcePrefix(kbid, uuid) + "security"
}

// ResourceRelationsKey stores the resource's relations.
func ResourceRelationsKey(kbid, uuid string) string {
	return ResourcePrefix(kbid, uuid) + "relations"
}

// ResourceShardKey stores the id of the shard the resource is indexed in.
func ResourceShardKey(kbid, uuid string) string {
	return ResourcePrefix(kbid, uuid) + "shard"
}

// ResourceFieldsPrefix is the prefix of every field key of a resource.
func ResourceFieldsPrefix(kbid, uuid string) string {
	return ResourcePrefix(kbid, uuid) + "f/"
}

// FieldKey stores a field's value.
func FieldKey(kbid, uuid string, ft core.FieldType, field string) string {
	return fmt.Sprintf("/kbs/%s/r/%s/f/%s/%s", kbid, uuid, ft, field)
}

// FieldErrorKey stores the last processing error of a field.
func FieldErrorKey(kbid, uuid string, ft core.FieldType, field string) string {
	return FieldKey(kbid, uuid, ft, field) + "/error"
}

// ParseFieldKey extracts the field id from a key under ResourceFieldsPrefix.
// Nested keys such as ".../error" resolve to their owning field.
func ParseFieldKey(kbid, uuid, key string) (core.FieldID, bool) {
	rest, ok := strings.CutPrefix(key, ResourceFieldsPrefix(kbid, uuid))
	if !ok {
		return core.FieldID{}, false
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[1] == "" {
		return core.FieldID{}, false
	}
	ft, err := core.ParseFieldType(parts[0])
	if err != nil {
		return core.FieldID{}, false
	}
	return core.FieldID{Type: ft, Field: parts[1]}, true
}

// ParseResourceKey returns the uuid if key is a resource basic key.
func ParseResourceKey(kbid, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, ResourcesPrefix(kbid))
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// LastSeqIDKey stores the last committed sequence id of a partition.
func LastSeqIDKey(partition string) string {
	return partitionPrefix + partition + "/last_seqid"
}

// LockKey stores a lease lock.
func LockKey(name string) string {
	return lockPrefix + name
}
