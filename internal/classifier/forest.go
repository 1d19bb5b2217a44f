package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/kjstillabower/weather2go/internal/models"
)

// ForestFormat identifies the JSON export produced from the trained pipeline.
const ForestFormat = "weather2go-forest/v1"

const (
	kindNumeric     = "numeric"
	kindCategorical = "categorical"
)

type forestArtifact struct {
	Format        string        `json:"format"`
	Classes       []string      `json:"classes"`
	SupportsProba bool          `json:"supports_proba"`
	Features      []featureSpec `json:"features"`
	Trees         []tree        `json:"trees"`
}

// featureSpec describes one input column. Categorical columns are one-hot
// encoded in Categories order; unseen values encode as all zeros.
type featureSpec struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Categories []string `json:"categories,omitempty"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

// node is a split when Left >= 0 (x[Feature] <= Threshold goes left) and a
// leaf otherwise. Leaf Value holds per-class weights.
type node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
}

func (n node) leaf() bool { return n.Left < 0 }

// Forest is a random forest that only exposes hard labels. It is what Load
// returns for artifacts exported without probability support.
type Forest struct {
	name     string
	classes  []string
	features []featureSpec
	width    int
	trees    []tree
}

// ProbabilisticForest is a Forest that exposes averaged class probabilities.
type ProbabilisticForest struct {
	*Forest
}

// Load reads a forest artifact from path.
func Load(path string) (Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	return Parse(filepath.Base(path), f)
}

// Parse decodes and validates a forest artifact.
func Parse(name string, r io.Reader) (Model, error) {
	var a forestArtifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidArtifact, err)
	}
	forest, err := newForest(name, a)
	if err != nil {
		return nil, err
	}
	if a.SupportsProba {
		return &ProbabilisticForest{Forest: forest}, nil
	}
	return forest, nil
}

func newForest(name string, a forestArtifact) (*Forest, error) {
	if a.Format != ForestFormat {
		return nil, fmt.Errorf("%w: format %q, want %q", ErrInvalidArtifact, a.Format, ForestFormat)
	}
	if len(a.Classes) == 0 {
		return nil, fmt.Errorf("%w: no classes", ErrInvalidArtifact)
	}
	if len(a.Trees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrInvalidArtifact)
	}
	if len(a.Features) != len(models.FeatureColumns) {
		return nil, fmt.Errorf("%w: %d features, want %d", ErrInvalidArtifact, len(a.Features), len(models.FeatureColumns))
	}

	width := 0
	for i, fs := range a.Features {
		if fs.Name != models.FeatureColumns[i] {
			return nil, fmt.Errorf("%w: feature %d is %q, want %q", ErrInvalidArtifact, i, fs.Name, models.FeatureColumns[i])
		}
		wantKind := kindNumeric
		if models.CategoricalColumns[fs.Name] {
			wantKind = kindCategorical
		}
		if fs.Kind != wantKind {
			return nil, fmt.Errorf("%w: feature %q kind %q, want %q", ErrInvalidArtifact, fs.Name, fs.Kind, wantKind)
		}
		if fs.Kind == kindCategorical {
			if len(fs.Categories) == 0 {
				return nil, fmt.Errorf("%w: feature %q has no categories", ErrInvalidArtifact, fs.Name)
			}
			width += len(fs.Categories)
		} else {
			width++
		}
	}

	for ti, t := range a.Trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("%w: tree %d is empty", ErrInvalidArtifact, ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				if len(n.Value) != len(a.Classes) {
					return nil, fmt.Errorf("%w: tree %d leaf %d has %d values, want %d", ErrInvalidArtifact, ti, ni, len(n.Value), len(a.Classes))
				}
				continue
			}
			// children always follow their parent, so traversal terminates
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return nil, fmt.Errorf("%w: tree %d node %d has invalid children", ErrInvalidArtifact, ti, ni)
			}
			if n.Feature < 0 || n.Feature >= width {
				return nil, fmt.Errorf("%w: tree %d node %d splits on feature %d of %d", ErrInvalidArtifact, ti, ni, n.Feature, width)
			}
		}
	}

	return &Forest{
		name:     name,
		classes:  slices.Clone(a.Classes),
		features: a.Features,
		width:    width,
		trees:    a.Trees,
	}, nil
}

func (f *Forest) Name() string { return f.name }

func (f *Forest) Classes() []string { return slices.Clone(f.classes) }

// PredictProba averages normalized leaf distributions across trees.
func (f *ProbabilisticForest) PredictProba(ctx context.Context, rows []models.FeatureVector) ([][]float64, error) {
	return f.proba(ctx, rows)
}

func (f *Forest) proba(ctx context.Context, rows []models.FeatureVector) ([][]float64, error) {
	out := make([][]float64, len(rows))
	x := make([]float64, f.width)
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.encode(row, x)
		p := make([]float64, len(f.classes))
		for _, t := range f.trees {
			leaf := t.eval(x)
			var total float64
			for _, v := range leaf.Value {
				total += v
			}
			if total <= 0 {
				continue
			}
			for c, v := range leaf.Value {
				p[c] += v / total
			}
		}
		for c := range p {
			p[c] /= float64(len(f.trees))
		}
		out[i] = p
	}
	return out, nil
}

func (f *Forest) encode(row models.FeatureVector, x []float64) {
	pos := 0
	for _, fs := range f.features {
		if fs.Kind == kindCategorical {
			v, _ := row.Categorical(fs.Name)
			for _, c := range fs.Categories {
				if c == v {
					x[pos] = 1
				} else {
					x[pos] = 0
				}
				pos++
			}
			continue
		}
		v, _ := row.Numeric(fs.Name)
		x[pos] = v
		pos++
	}
}

func (t tree) eval(x []float64) node {
	i := 0
	for {
		n := t.Nodes[i]
		if n.leaf() {
			return n
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
