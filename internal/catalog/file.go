package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File is the catalog.yml import format. Quantities are decimal strings.
type File struct {
	WorkCenters []WorkCenterEntry `yaml:"work_centers"`
	Routings    []RoutingEntry    `yaml:"routings"`
	BOMs        []BOMEntry        `yaml:"boms"`
}

type WorkCenterEntry struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	ManagerID string `yaml:"manager_id"`
	InHouse   *bool  `yaml:"in_house"`
}

func (w WorkCenterEntry) inHouse() bool {
	return w.InHouse == nil || *w.InHouse
}

type RoutingEntry struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Operations []struct {
		Sequence          int    `yaml:"sequence"`
		OperationID       string `yaml:"operation_id"`
		WorkCenterID      string `yaml:"workcenter_id"`
		StandardCycleTime string `yaml:"standard_cycle_time"`
	} `yaml:"operations"`
}

func (r RoutingEntry) operations() ([]RoutingOperation, error) {
	ops := make([]RoutingOperation, 0, len(r.Operations))
	for _, o := range r.Operations {
		ct := decimal.Zero
		if o.StandardCycleTime != "" {
			v, err := decimal.NewFromString(o.StandardCycleTime)
			if err != nil {
				return nil, fmt.Errorf("routing %s op %d: invalid standard_cycle_time %q", r.ID, o.Sequence, o.StandardCycleTime)
			}
			ct = v
		}
		ops = append(ops, RoutingOperation{Sequence: o.Sequence, OperationID: o.OperationID, WorkCenterID: o.WorkCenterID, StandardCycleTime: ct})
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Sequence < ops[j].Sequence })
	return ops, nil
}

type BOMEntry struct {
	ID           string `yaml:"id"`
	ProductID    string `yaml:"product_id"`
	BaseQuantity string `yaml:"base_quantity"`
	Lines        []struct {
		MaterialID string `yaml:"material_id"`
		UnitID     string `yaml:"unit_id"`
		Quantity   string `yaml:"quantity"`
	} `yaml:"lines"`
}

func (b BOMEntry) parse() (BOMHeader, []BOMLine, error) {
	base, err := decimal.NewFromString(b.BaseQuantity)
	if err != nil {
		return BOMHeader{}, nil, fmt.Errorf("bom %s: invalid base_quantity %q", b.ID, b.BaseQuantity)
	}
	lines := make([]BOMLine, 0, len(b.Lines))
	for i, l := range b.Lines {
		q, err := decimal.NewFromString(l.Quantity)
		if err != nil {
			return BOMHeader{}, nil, fmt.Errorf("bom %s line %d: invalid quantity %q", b.ID, i+1, l.Quantity)
		}
		lines = append(lines, BOMLine{LineNo: i + 1, MaterialID: l.MaterialID, UnitID: l.UnitID, Quantity: q})
	}
	return BOMHeader{ID: b.ID, ProductID: b.ProductID, BaseQuantity: base}, lines, nil
}

// Validate checks ids and operation sequences. Base quantities are not range
// checked here; generation decides how a non-positive base is treated.
func (f *File) Validate() error {
	seen := map[string]bool{}
	for _, wc := range f.WorkCenters {
		if wc.ID == "" {
			return fmt.Errorf("work center with empty id")
		}
		if seen["wc:"+wc.ID] {
			return fmt.Errorf("duplicate work center %s", wc.ID)
		}
		seen["wc:"+wc.ID] = true
	}
	for _, r := range f.Routings {
		if r.ID == "" {
			return fmt.Errorf("routing with empty id")
		}
		if seen["r:"+r.ID] {
			return fmt.Errorf("duplicate routing %s", r.ID)
		}
		seen["r:"+r.ID] = true
		seqs := map[int]bool{}
		for _, o := range r.Operations {
			if o.OperationID == "" {
				return fmt.Errorf("routing %s op %d has empty operation_id", r.ID, o.Sequence)
			}
			if seqs[o.Sequence] {
				return fmt.Errorf("routing %s has duplicate sequence %d", r.ID, o.Sequence)
			}
			seqs[o.Sequence] = true
		}
		if _, err := r.operations(); err != nil {
			return err
		}
	}
	for _, b := range f.BOMs {
		if b.ID == "" {
			return fmt.Errorf("bom with empty id")
		}
		if seen["b:"+b.ID] {
			return fmt.Errorf("duplicate bom %s", b.ID)
		}
		seen["b:"+b.ID] = true
		if _, _, err := b.parse(); err != nil {
			return err
		}
	}
	return nil
}

// Load fills a Memory catalog from the file.
func (f *File) Load(m *Memory) error {
	for _, wc := range f.WorkCenters {
		m.PutWorkCenter(WorkCenter{ID: wc.ID, Name: wc.Name, ManagerID: wc.ManagerID, InHouse: wc.inHouse()})
	}
	for _, r := range f.Routings {
		ops, err := r.operations()
		if err != nil {
			return err
		}
		m.PutRouting(r.ID, ops...)
	}
	for _, b := range f.BOMs {
		h, lines, err := b.parse()
		if err != nil {
			return err
		}
		m.PutBOM(h, lines...)
	}
	return nil
}

// FromYAML parses and validates a catalog file.
func FromYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func FromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
