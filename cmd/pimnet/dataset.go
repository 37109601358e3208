package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/driftworks/pimnet/training"
)

// datasetFile is the on-disk dataset format: a shared sample shape and a
// list of flat float vectors with class labels.
type datasetFile struct {
	SampleShape []int           `json:"sample_shape"`
	Samples     []datasetSample `json:"samples"`
}

type datasetSample struct {
	Label  int32     `json:"label"`
	Values []float32 `json:"values"`
}

func loadDataset(path string) (*training.InMemoryDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	var file datasetFile
	if err := json.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding dataset %s: %w", path, err)
	}
	if len(file.Samples) == 0 {
		return nil, fmt.Errorf("dataset %s contains no samples", path)
	}

	ds, err := training.NewInMemoryDataset(file.SampleShape)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	for i, s := range file.Samples {
		if err := ds.Add(s.Values, s.Label); err != nil {
			return nil, fmt.Errorf("dataset %s sample %d: %w", path, i, err)
		}
	}
	return ds, nil
}
