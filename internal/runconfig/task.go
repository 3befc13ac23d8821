package runconfig

import (
	"fmt"
	"reflect"
	"strings"

	"go.yaml.in/yaml/v3"
)

// TaskType selects the computer-vision task a run trains for.
type TaskType string

const (
	TaskClassification       TaskType = "classification"
	TaskDetection            TaskType = "detection"
	TaskInstanceSegmentation TaskType = "instance_segmentation"
	TaskPanopticSegmentation TaskType = "panoptic_segmentation"
	TaskSemanticSegmentation TaskType = "semantic_segmentation"
)

// TaskTypes lists every supported task in display order.
func TaskTypes() []TaskType {
	return []TaskType{
		TaskClassification,
		TaskDetection,
		TaskInstanceSegmentation,
		TaskPanopticSegmentation,
		TaskSemanticSegmentation,
	}
}

// ParseTaskType normalizes s ("Instance-Segmentation" → instance_segmentation)
// and reports whether it names a supported task.
func ParseTaskType(s string) (TaskType, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for _, t := range TaskTypes() {
		if string(t) == norm {
			return t, true
		}
	}
	return TaskType(norm), false
}

// Valid reports whether t is a supported task.
func (t TaskType) Valid() bool {
	for _, known := range TaskTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// IsSegmentation reports whether t produces masks.
func (t TaskType) IsSegmentation() bool {
	switch t {
	case TaskInstanceSegmentation, TaskPanopticSegmentation, TaskSemanticSegmentation:
		return true
	}
	return false
}

// SegmentationKind is the expected value of segmentation_type for t, or ""
// when t is not a segmentation task.
func (t TaskType) SegmentationKind() string {
	switch t {
	case TaskInstanceSegmentation:
		return "instance"
	case TaskPanopticSegmentation:
		return "panoptic"
	case TaskSemanticSegmentation:
		return "semantic"
	}
	return ""
}

// TaskConfig holds the fields that only exist for one task type. The concrete
// variant is selected by model.task_type; its fields live flat inside the
// model section of the document.
type TaskConfig interface {
	Type() TaskType
	check(report func(field, reason string))
}

// ClassificationConfig carries classification-only regularization settings.
type ClassificationConfig struct {
	Dropout        *float64 `yaml:"dropout,omitempty"`
	MixupAlpha     *float64 `yaml:"mixup_alpha,omitempty"`
	LabelSmoothing *float64 `yaml:"label_smoothing,omitempty"`
}

func (ClassificationConfig) Type() TaskType { return TaskClassification }

func (c ClassificationConfig) check(report func(field, reason string)) {
	checkOptionalUnit(report, "dropout", c.Dropout)
	if c.MixupAlpha != nil && *c.MixupAlpha < 0 {
		report("mixup_alpha", fmt.Sprintf("must be >= 0, got %g", *c.MixupAlpha))
	}
	checkOptionalUnit(report, "label_smoothing", c.LabelSmoothing)
}

// DetectionConfig requires both post-processing thresholds.
type DetectionConfig struct {
	ConfidenceThreshold *float64 `yaml:"confidence_threshold,omitempty"`
	IoUThreshold        *float64 `yaml:"iou_threshold,omitempty"`
	MaxDetections       int      `yaml:"max_detections,omitempty"`
}

func (DetectionConfig) Type() TaskType { return TaskDetection }

func (c DetectionConfig) check(report func(field, reason string)) {
	checkRequiredUnit(report, "confidence_threshold", c.ConfidenceThreshold)
	checkRequiredUnit(report, "iou_threshold", c.IoUThreshold)
	if c.MaxDetections < 0 {
		report("max_detections", fmt.Sprintf("must be >= 0, got %d", c.MaxDetections))
	}
}

// InstanceSegmentationConfig requires a mask threshold and segmentation_type "instance".
type InstanceSegmentationConfig struct {
	ConfidenceThreshold *float64 `yaml:"confidence_threshold,omitempty"`
	MaskThreshold       *float64 `yaml:"mask_threshold,omitempty"`
	SegmentationType    string   `yaml:"segmentation_type,omitempty"`
	MaxDetections       int      `yaml:"max_detections,omitempty"`
}

func (InstanceSegmentationConfig) Type() TaskType { return TaskInstanceSegmentation }

func (c InstanceSegmentationConfig) check(report func(field, reason string)) {
	checkOptionalUnit(report, "confidence_threshold", c.ConfidenceThreshold)
	checkRequiredUnit(report, "mask_threshold", c.MaskThreshold)
	checkSegmentationType(report, TaskInstanceSegmentation, c.SegmentationType)
	if c.MaxDetections < 0 {
		report("max_detections", fmt.Sprintf("must be >= 0, got %d", c.MaxDetections))
	}
}

// PanopticSegmentationConfig requires a mask threshold and segmentation_type "panoptic".
type PanopticSegmentationConfig struct {
	MaskThreshold    *float64 `yaml:"mask_threshold,omitempty"`
	OverlapThreshold *float64 `yaml:"overlap_threshold,omitempty"`
	SegmentationType string   `yaml:"segmentation_type,omitempty"`
}

func (PanopticSegmentationConfig) Type() TaskType { return TaskPanopticSegmentation }

func (c PanopticSegmentationConfig) check(report func(field, reason string)) {
	checkRequiredUnit(report, "mask_threshold", c.MaskThreshold)
	checkOptionalUnit(report, "overlap_threshold", c.OverlapThreshold)
	checkSegmentationType(report, TaskPanopticSegmentation, c.SegmentationType)
}

// SemanticSegmentationConfig requires a mask threshold and segmentation_type "semantic".
type SemanticSegmentationConfig struct {
	MaskThreshold    *float64 `yaml:"mask_threshold,omitempty"`
	SegmentationType string   `yaml:"segmentation_type,omitempty"`
	IgnoreIndex      *int     `yaml:"ignore_index,omitempty"`
}

func (SemanticSegmentationConfig) Type() TaskType { return TaskSemanticSegmentation }

func (c SemanticSegmentationConfig) check(report func(field, reason string)) {
	checkRequiredUnit(report, "mask_threshold", c.MaskThreshold)
	checkSegmentationType(report, TaskSemanticSegmentation, c.SegmentationType)
}

func checkRequiredUnit(report func(field, reason string), field string, v *float64) {
	if v == nil {
		report(field, "required")
		return
	}
	checkOptionalUnit(report, field, v)
}

func checkOptionalUnit(report func(field, reason string), field string, v *float64) {
	if v != nil && (*v < 0 || *v > 1) {
		report(field, fmt.Sprintf("must be in [0, 1], got %g", *v))
	}
}

func checkSegmentationType(report func(field, reason string), task TaskType, got string) {
	want := task.SegmentationKind()
	switch strings.TrimSpace(got) {
	case "":
		report("segmentation_type", "required")
	case want:
	default:
		report("segmentation_type", fmt.Sprintf("must be %q for task %s, got %q", want, task, got))
	}
}

// newTaskConfig returns an empty variant for t, or nil for unknown tasks.
func newTaskConfig(t TaskType) TaskConfig {
	switch t {
	case TaskClassification:
		return &ClassificationConfig{}
	case TaskDetection:
		return &DetectionConfig{}
	case TaskInstanceSegmentation:
		return &InstanceSegmentationConfig{}
	case TaskPanopticSegmentation:
		return &PanopticSegmentationConfig{}
	case TaskSemanticSegmentation:
		return &SemanticSegmentationConfig{}
	}
	return nil
}

// decodeTaskConfig decodes the variant for t from the model mapping node.
func decodeTaskConfig(t TaskType, node *yaml.Node) (TaskConfig, error) {
	tc := newTaskConfig(t)
	if tc == nil {
		return nil, nil
	}
	if err := node.Decode(tc); err != nil {
		return nil, err
	}
	return derefTask(tc), nil
}

// derefTask stores variants by value so callers can type-switch on
// DetectionConfig rather than *DetectionConfig.
func derefTask(tc TaskConfig) TaskConfig {
	switch v := tc.(type) {
	case *ClassificationConfig:
		return *v
	case *DetectionConfig:
		return *v
	case *InstanceSegmentationConfig:
		return *v
	case *PanopticSegmentationConfig:
		return *v
	case *SemanticSegmentationConfig:
		return *v
	}
	return tc
}

// taskKeys returns the YAML keys owned by the variant of t.
func taskKeys(t TaskType) []string {
	tc := newTaskConfig(t)
	if tc == nil {
		return nil
	}
	rt := reflect.TypeOf(tc).Elem()
	keys := make([]string, 0, rt.NumField())
	for i := range rt.NumField() {
		tag := rt.Field(i).Tag.Get("yaml")
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			keys = append(keys, name)
		}
	}
	return keys
}
