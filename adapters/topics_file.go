package adapters

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TopicsFile lists the topics a subscriber bridge registers at startup.
//
//	topics:
//	  - esp32
//	  - sensors/#
type TopicsFile struct {
	Topics []string `yaml:"topics"`
}

func LoadTopicsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics file: %w", err)
	}
	return ParseTopics(data)
}

func ParseTopics(data []byte) ([]string, error) {
	var f TopicsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse topics file: %w", err)
	}

	topics := make([]string, 0, len(f.Topics))
	for i, t := range f.Topics {
		if t == "" {
			return nil, fmt.Errorf("parse topics file: topic %d is empty", i)
		}
		topics = append(topics, t)
	}
	return topics, nil
}
