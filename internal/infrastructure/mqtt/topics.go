package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "onesmart"

// Topics builds bridge topic names under a prefix.
// The zero value uses DefaultTopicPrefix.
//
//	topics := mqtt.Topics{Prefix: "onesmart"}
//	topics.Descriptor("light", "onesmart-12-output_1")
//	// Returns: "onesmart/descriptors/light/onesmart-12-output_1"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// SystemStatus returns the retained online/offline topic.
//
// Example: onesmart/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// Health returns the retained bridge health topic.
//
// Example: onesmart/system/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/system/health", t.prefix())
}

// Cache returns the topic carrying the cache snapshot for a notification area.
//
// Example: onesmart/cache/apparatus
func (t Topics) Cache(area string) string {
	return fmt.Sprintf("%s/cache/%s", t.prefix(), area)
}

// Descriptor returns the retained topic for one entity descriptor.
//
// Example: onesmart/descriptors/climate/onesmart-10-heat_pump
func (t Topics) Descriptor(platform, id string) string {
	return fmt.Sprintf("%s/descriptors/%s/%s", t.prefix(), platform, id)
}

// Command returns the topic consumers publish commands for a descriptor to.
//
// Example: onesmart/command/onesmart-12-output_1
func (t Topics) Command(descriptorID string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), descriptorID)
}

// Refresh returns the topic that requests a refresh of one cache key.
// The key keeps its slash, so "site/get" becomes two levels.
//
// Example: onesmart/refresh/apparatus/get/10
func (t Topics) Refresh(key string) string {
	return fmt.Sprintf("%s/refresh/%s", t.prefix(), key)
}

// Ack returns the topic command acknowledgements are published on.
//
// Example: onesmart/ack/onesmart-12-output_1
func (t Topics) Ack(descriptorID string) string {
	return fmt.Sprintf("%s/ack/%s", t.prefix(), descriptorID)
}

// AllCommands matches every command topic.
//
// Pattern: onesmart/command/+
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", t.prefix())
}

// AllRefresh matches every refresh topic.
//
// Pattern: onesmart/refresh/#
func (t Topics) AllRefresh() string {
	return fmt.Sprintf("%s/refresh/#", t.prefix())
}

// Tail returns the part of topic after base/, or "" if topic is not
// below base. base is usually a builder result such as Command("").
func Tail(topic, base string) string {
	base = strings.TrimSuffix(base, "/") + "/"
	if !strings.HasPrefix(topic, base) {
		return ""
	}
	return topic[len(base):]
}
