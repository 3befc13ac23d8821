// Package provenance exports a prepared run as a CycloneDX ML-BOM: the
// configured model is the metadata component and every prepared split is a
// data component it depends on.
package provenance

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"

	"github.com/idlab-discover/visionprep-cli/internal/catalog"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

const (
	ToolVendor = "idlab-discover"
	ToolName   = "visionprep"

	propertyPrefix = "visionprep:"
)

// Options carries values that do not live in the run configuration.
type Options struct {
	// RunID scopes the dataset references; empty means a fresh uuid.
	RunID string
	// ArchitectureFamily and ModelArchitecture usually come from the Hub
	// compatibility check.
	ArchitectureFamily string
	ModelArchitecture  string
	// Now overrides the metadata timestamp.
	Now func() time.Time
}

// hubTasks maps a task type to the pipeline tag recorded in the model card.
var hubTasks = map[runconfig.TaskType]string{
	runconfig.TaskClassification:       "image-classification",
	runconfig.TaskDetection:            "object-detection",
	runconfig.TaskInstanceSegmentation: "image-segmentation",
	runconfig.TaskPanopticSegmentation: "image-segmentation",
	runconfig.TaskSemanticSegmentation: "image-segmentation",
}

// Build assembles the BOM for cfg and the prepared splits.
func Build(cfg *runconfig.RunConfig, splits []catalog.SplitSummary, opts Options) (*cdx.BOM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("build BOM: nil configuration")
	}
	modelID := strings.TrimSpace(cfg.Model.ModelName)
	logf(modelID, "build start (%d split(s))", len(splits))

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	datasets := make([]cdx.Component, 0, len(splits))
	refs := make([]string, 0, len(splits))
	for _, s := range splits {
		comp := datasetComponent(cfg, runID, s)
		datasets = append(datasets, comp)
		refs = append(refs, comp.BOMRef)
	}

	model, err := modelComponent(cfg, refs, opts)
	if err != nil {
		return nil, err
	}

	bom := cdx.NewBOM()
	bom.SerialNumber = "urn:uuid:" + uuid.NewString()
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	bom.Metadata = &cdx.Metadata{
		Timestamp: now().Format(time.RFC3339),
		Component: model,
		Tools: &cdx.ToolsChoice{Components: &[]cdx.Component{{
			Type:         cdx.ComponentTypeApplication,
			Manufacturer: &cdx.OrganizationalEntity{Name: ToolVendor},
			Name:         ToolName,
			Version:      ToolVersion(),
		}}},
	}
	if len(datasets) > 0 {
		bom.Components = &datasets
	}
	addDependencies(bom)

	logf(modelID, "build ok (serial=%s)", bom.SerialNumber)
	return bom, nil
}

// ModelRef is the bom-ref of a Hub model id.
func ModelRef(id string) string {
	id = strings.Trim(strings.TrimSpace(id), "/")
	if id == "" {
		id = "unknown"
	}
	return "pkg:huggingface/" + strings.ReplaceAll(id, "@", "%40")
}

// DatasetRef is the bom-ref of one split of a run.
func DatasetRef(runID, split string) string {
	return "urn:visionprep:dataset:" + runID + ":" + split
}

func modelComponent(cfg *runconfig.RunConfig, datasetRefs []string, opts Options) (*cdx.Component, error) {
	flat, err := runconfig.Flatten(cfg)
	if err != nil {
		return nil, fmt.Errorf("build BOM: %w", err)
	}
	var props []cdx.Property
	for _, k := range sortedKeys(flat) {
		if strings.HasPrefix(k, "model.") || strings.HasPrefix(k, "training.") {
			props = append(props, cdx.Property{Name: propertyPrefix + k, Value: flat[k]})
		}
	}

	mp := &cdx.MLModelParameters{
		Task:               hubTasks[cfg.Task()],
		ArchitectureFamily: opts.ArchitectureFamily,
		ModelArchitecture:  opts.ModelArchitecture,
	}
	if len(datasetRefs) > 0 {
		choices := make([]cdx.MLDatasetChoice, 0, len(datasetRefs))
		for _, ref := range datasetRefs {
			choices = append(choices, cdx.MLDatasetChoice{Ref: ref})
		}
		mp.Datasets = &choices
	}

	name := strings.TrimSpace(cfg.Model.ModelName)
	if name == "" {
		name = "model"
	}
	comp := &cdx.Component{
		Type:      cdx.ComponentTypeMachineLearningModel,
		BOMRef:    ModelRef(cfg.Model.ModelName),
		Name:      name,
		ModelCard: &cdx.MLModelCard{ModelParameters: mp},
	}
	if len(props) > 0 {
		comp.Properties = &props
	}
	return comp, nil
}

func datasetComponent(cfg *runconfig.RunConfig, runID string, s catalog.SplitSummary) cdx.Component {
	props := []cdx.Property{
		{Name: propertyPrefix + "split", Value: s.Split},
		{Name: propertyPrefix + "records", Value: strconv.Itoa(s.Total)},
		{Name: propertyPrefix + "records.valid", Value: strconv.Itoa(s.Valid)},
		{Name: propertyPrefix + "records.excluded", Value: strconv.Itoa(s.Excluded)},
		{Name: propertyPrefix + "annotations", Value: strconv.Itoa(s.Annotations)},
		{Name: propertyPrefix + "categories", Value: strconv.Itoa(s.Categories)},
	}
	desc := fmt.Sprintf("%s split prepared for %s", s.Split, cfg.Task())
	if loc, err := cfg.Data.Split(s.Split); err == nil {
		props = append(props, cdx.Property{Name: propertyPrefix + "data_path", Value: loc.DataPath})
		if loc.AnnotationFile != "" {
			props = append(props, cdx.Property{Name: propertyPrefix + "annotation_file", Value: loc.AnnotationFile})
		}
	}
	return cdx.Component{
		Type:       cdx.ComponentTypeData,
		BOMRef:     DatasetRef(runID, s.Split),
		Name:       s.Split,
		Properties: &props,
		Data: &[]cdx.ComponentData{{
			Type:        cdx.ComponentDataTypeDataset,
			Name:        s.Split,
			Description: desc,
		}},
	}
}

// addDependencies makes the model depend on every data component.
func addDependencies(bom *cdx.BOM) {
	if bom.Metadata == nil || bom.Metadata.Component == nil || bom.Metadata.Component.BOMRef == "" {
		return
	}
	var refs []string
	if bom.Components != nil {
		for _, c := range *bom.Components {
			if c.Type == cdx.ComponentTypeData && c.BOMRef != "" {
				refs = append(refs, c.BOMRef)
			}
		}
	}
	deps := make([]cdx.Dependency, 0, 1+len(refs))
	modelDep := cdx.Dependency{Ref: bom.Metadata.Component.BOMRef}
	if len(refs) > 0 {
		cp := slices.Clone(refs)
		modelDep.Dependencies = &cp
	}
	deps = append(deps, modelDep)
	for _, r := range refs {
		deps = append(deps, cdx.Dependency{Ref: r})
	}
	bom.Dependencies = &deps
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
