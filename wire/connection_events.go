package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/bletera/logger"
	"github.com/user/bletera/util"
)

// Journal names
const (
	ConnectionEventsFile = "connection_events.jsonl"
	GAPEventsFile        = "gap_events.jsonl"
)

// Journal appends events as JSON lines under a device's data directory.
// Each line is a structpb.Struct encoded with protojson.
type Journal struct {
	deviceID string
	path     string
	mu       sync.Mutex
	enabled  bool
}

// NewJournal creates a journal at {dataDir}/{deviceID}/{name}
func NewJournal(deviceID, name string, enabled bool) *Journal {
	if !enabled {
		return &Journal{deviceID: deviceID}
	}
	return &Journal{
		deviceID: deviceID,
		path:     filepath.Join(util.GetDeviceDir(deviceID), name),
		enabled:  true,
	}
}

// Log appends one event. Failures are logged and otherwise ignored.
func (j *Journal) Log(event string, fields map[string]interface{}) {
	if j == nil || !j.enabled {
		return
	}
	prefix := util.ShortHash(j.deviceID) + " Journal"

	values := map[string]interface{}{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		values[k] = v
	}
	record, err := structpb.NewStruct(values)
	if err != nil {
		logger.Warn(prefix, "failed to build %s event: %v", event, err)
		return
	}
	line, err := protojson.Marshal(record)
	if err != nil {
		logger.Warn(prefix, "failed to marshal %s event: %v", event, err)
		return
	}
	logger.TraceJSON(prefix, event, record)

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn(prefix, "failed to open %s: %v", j.path, err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		logger.Warn(prefix, "failed to write %s: %v", j.path, err)
	}
}

// ReadJournal loads every event of a device journal in append order
func ReadJournal(deviceID, name string) ([]*structpb.Struct, error) {
	data, err := os.ReadFile(filepath.Join(util.GetDataDir(), deviceID, name))
	if err != nil {
		return nil, err
	}

	var events []*structpb.Struct
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; scanner.Scan(); n++ {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		record := &structpb.Struct{}
		if err := protojson.Unmarshal(scanner.Bytes(), record); err != nil {
			return nil, fmt.Errorf("wire: %s line %d: %w", name, n, err)
		}
		events = append(events, record)
	}
	return events, scanner.Err()
}

// EventNames returns the "event" field of each record
func EventNames(events []*structpb.Struct) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.GetFields()["event"].GetStringValue())
	}
	return names
}
