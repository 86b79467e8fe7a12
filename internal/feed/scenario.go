package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/relay"
)

// LoadScenario reads change events from a JSONL file, one event per line.
// Every line is validated on load, so a bad scenario fails before anything
// reaches the relay. Blank lines are skipped.
func LoadScenario(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)

	// Increase buffer size for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if err := relay.CheckChange(event.Topic, event.Operation, event.Value); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, fmt.Errorf("no events found in %s", path)
	}
	return events, nil
}
