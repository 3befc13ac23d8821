package fetcher

import (
	"context"
	"path"
	"strings"
)

// DummyHub answers without network access. The pipeline tag and model type
// are guessed from well-known architecture names in the id, which is enough
// to exercise the compatibility check offline.
type DummyHub struct{}

func (DummyHub) Fetch(_ context.Context, modelID string) (*ModelInfo, error) {
	id := strings.Trim(strings.TrimSpace(modelID), "/")
	tag, modelType, arch := guessVisionModel(id)

	info := &ModelInfo{
		ID:          id,
		ModelID:     id,
		PipelineTag: tag,
		LibraryName: "transformers",
		Tags:        []string{"pytorch", "vision"},
	}
	if tag != "" {
		info.Tags = append(info.Tags, tag)
	}
	if author, _, ok := strings.Cut(id, "/"); ok {
		info.Author = author
	}
	info.Config.ModelType = modelType
	if arch != "" {
		info.Config.Architectures = []string{arch}
	}
	logf(id, "offline answer: pipeline_tag=%s model_type=%s", tag, modelType)
	return info, nil
}

func guessVisionModel(id string) (tag, modelType, arch string) {
	name := strings.ToLower(path.Base(id))
	switch {
	case strings.Contains(name, "mask2former"):
		return "image-segmentation", "mask2former", "Mask2FormerForUniversalSegmentation"
	case strings.Contains(name, "maskformer"):
		return "image-segmentation", "maskformer", "MaskFormerForInstanceSegmentation"
	case strings.Contains(name, "segformer"):
		return "image-segmentation", "segformer", "SegformerForSemanticSegmentation"
	case strings.Contains(name, "deeplab"), strings.Contains(name, "upernet"):
		return "image-segmentation", "upernet", "UperNetForSemanticSegmentation"
	case strings.Contains(name, "detr"), strings.Contains(name, "yolo"):
		return "object-detection", "detr", "DetrForObjectDetection"
	case strings.Contains(name, "vit"):
		return "image-classification", "vit", "ViTForImageClassification"
	case strings.Contains(name, "resnet"):
		return "image-classification", "resnet", "ResNetForImageClassification"
	case strings.Contains(name, "convnext"):
		return "image-classification", "convnext", "ConvNextForImageClassification"
	}
	return "", "", ""
}
