package audio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Forest is a random-forest classifier exported as JSON. Trees use the usual
// flat node arrays: a node with Left == -1 is a leaf whose Value holds the
// class distribution; otherwise samples with x[Feature] <= Threshold go Left.
type Forest struct {
	Version    string   `json:"version"`
	FeatureSet string   `json:"feature_set"`
	FeatureDim int      `json:"feature_dim"`
	Labels     []string `json:"labels"`
	Scaler     *Scaler  `json:"scaler,omitempty"`
	Trees      []Tree   `json:"trees"`
}

// Scaler standardizes features before prediction: (x - Mean) / Scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
}

const leafMarker = -1

// LoadForest reads and validates a model asset.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return &f, nil
}

// Validate checks the asset against the extractor's layout and its own structure.
func (f *Forest) Validate() error {
	if f.Version == "" {
		return errors.New("missing version")
	}
	if f.FeatureSet != FeatureSetName {
		return fmt.Errorf("feature set %q, want %q", f.FeatureSet, FeatureSetName)
	}
	if f.FeatureDim != FeatureDim {
		return fmt.Errorf("feature dim %d, want %d", f.FeatureDim, FeatureDim)
	}
	if len(f.Labels) < 2 {
		return fmt.Errorf("need at least two labels, got %d", len(f.Labels))
	}
	if len(f.Trees) == 0 {
		return errors.New("no trees")
	}
	if f.Scaler != nil {
		if len(f.Scaler.Mean) != f.FeatureDim || len(f.Scaler.Scale) != f.FeatureDim {
			return errors.New("scaler size does not match feature dim")
		}
		for i, s := range f.Scaler.Scale {
			if s == 0 {
				return fmt.Errorf("scaler scale[%d] is zero", i)
			}
		}
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		for i, n := range tree.Nodes {
			if n.Left == leafMarker {
				if len(n.Value) != len(f.Labels) {
					return fmt.Errorf("tree %d leaf %d has %d values, want %d", t, i, len(n.Value), len(f.Labels))
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= f.FeatureDim {
				return fmt.Errorf("tree %d node %d splits on feature %d", t, i, n.Feature)
			}
			// children always follow their parent, so walks terminate
			if n.Left <= i || n.Left >= len(tree.Nodes) || n.Right <= i || n.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children", t, i)
			}
		}
	}
	return nil
}

// Predict returns the winning label index and its averaged probability.
// Ties go to the lower index.
func (f *Forest) Predict(features []float64) (int, float64, error) {
	if len(features) != f.FeatureDim {
		return 0, 0, fmt.Errorf("got %d features, want %d", len(features), f.FeatureDim)
	}
	x := features
	if f.Scaler != nil {
		x = make([]float64, len(features))
		for i, v := range features {
			x[i] = (v - f.Scaler.Mean[i]) / f.Scaler.Scale[i]
		}
	}

	probs := make([]float64, len(f.Labels))
	for _, tree := range f.Trees {
		i := 0
		for tree.Nodes[i].Left != leafMarker {
			n := tree.Nodes[i]
			if x[n.Feature] <= n.Threshold {
				i = n.Left
			} else {
				i = n.Right
			}
		}
		leaf := tree.Nodes[i].Value
		var sum float64
		for _, v := range leaf {
			sum += v
		}
		if sum <= 0 {
			continue
		}
		for k, v := range leaf {
			probs[k] += v / sum
		}
	}

	best := 0
	for k := range probs {
		probs[k] /= float64(len(f.Trees))
		if probs[k] > probs[best] {
			best = k
		}
	}
	return best, probs[best], nil
}
