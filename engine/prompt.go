package engine

import (
	"fmt"
	"strings"
)

// CameraOverrides 镜头级的相机参数覆盖，nil/空表示沿用模板
type CameraOverrides struct {
	Distance        string   `json:"distance,omitempty"`
	VerticalAngle   *float64 `json:"vertical_angle,omitempty"`
	HorizontalAngle *float64 `json:"horizontal_angle,omitempty"`
	FocalLength     *int     `json:"focal_length,omitempty"`
}

// CameraParams 解析后的相机参数，对应输出记录的 camera 字段
type CameraParams struct {
	Distance        string  `json:"distance"`
	VerticalAngle   float64 `json:"vertical_angle"`
	HorizontalAngle float64 `json:"horizontal_angle"`
	FocalLength     int     `json:"focal_length"`
}

// ShotPlan 一个镜头的输入面：参与实体、模板、叙事片段与相机覆盖
type ShotPlan struct {
	ShotNumber   int             `json:"shot_number"`
	TemplateID   string          `json:"template"`
	Description  string          `json:"description"`
	CharacterIDs []string        `json:"characters_in_shot"`
	PropIDs      []string        `json:"props_in_shot"`
	SceneID      string          `json:"scene"`
	Camera       CameraOverrides `json:"camera_overrides"`
	// 权重覆盖：槽位 → 权重，整值替换模板默认值
	WeightOverrides WeightVector `json:"weight_overrides,omitempty"`
}

// ReferenceAsset 生成引擎需要的参考图绑定
type ReferenceAsset struct {
	EntityID     string `json:"entity_id"`
	ImageLocator string `json:"image_locator"`
}

// GenerationInstruction 交给生成引擎的完整指令。
// 参考图的实际绑定发生在指令递交时，装配阶段只记录定位符。
type GenerationInstruction struct {
	ShotNumber      int              `json:"shot_number"`
	Prompt          string           `json:"prompt"`
	NegativePrompt  string           `json:"negative_prompt"`
	Camera          CameraParams     `json:"camera"`
	Weights         WeightVector     `json:"weights"`
	ReferenceAssets []ReferenceAsset `json:"reference_assets"`
}

// ResolveCamera 模板相机范围取中值，再套镜头级覆盖
func ResolveCamera(t ShotTemplate, o CameraOverrides) CameraParams {
	p := CameraParams{
		Distance:        t.Camera.Distance,
		VerticalAngle:   (t.Camera.VerticalAngle.Min + t.Camera.VerticalAngle.Max) / 2,
		HorizontalAngle: (t.Camera.HorizontalAngle.Min + t.Camera.HorizontalAngle.Max) / 2,
		FocalLength:     t.Camera.FocalLength,
	}
	if o.Distance != "" {
		p.Distance = o.Distance
	}
	if o.VerticalAngle != nil {
		p.VerticalAngle = *o.VerticalAngle
	}
	if o.HorizontalAngle != nil {
		p.HorizontalAngle = *o.HorizontalAngle
	}
	if o.FocalLength != nil {
		p.FocalLength = *o.FocalLength
	}
	return p
}

// 固定技术后缀（分辨率/质量 token）
const technicalSuffix = "masterpiece, best quality, 8k, highly detailed"

// Assembler 提示词装配器，按项目构造一次
type Assembler struct {
	Registry *Registry
	// 项目级风格实体 id，空表示未配置风格
	StyleID string
	// 项目一致性前缀，置于整条提示词最前
	ConsistencyPrefix string
}

// Assemble 按固定顺序拼接生成指令：
// 相机/构图描述 → 参与角色描述 → 叙事片段 → 场景描述 → 风格描述 → 技术后缀。
// 镜头引用了注册表中不存在的实体时返回 missing_participant。
func (a *Assembler) Assemble(plan ShotPlan, sig ResolvedSignal, weights WeightVector) (GenerationInstruction, error) {
	tmpl, err := LookupTemplate(plan.TemplateID)
	if err != nil {
		return GenerationInstruction{}, err
	}
	camera := ResolveCamera(tmpl, plan.Camera)

	var parts []string
	parts = append(parts, fmt.Sprintf("%s构图: %s, 焦距%dmm, 俯仰%.0f°, 水平%.0f°",
		tmpl.Name, tmpl.Composition, camera.FocalLength, camera.VerticalAngle, camera.HorizontalAngle))

	var assets []ReferenceAsset

	for _, id := range plan.CharacterIDs {
		ch, err := a.Registry.Character(id)
		if err != nil {
			return GenerationInstruction{}, newError(ErrKindMissingParticipant, "character %q not in registry", id)
		}
		parts = append(parts, entityDescriptor("character", ch.ID, ch.Name, sig.ActiveFor(ch.ID)))
		assets = append(assets, refAssets(&ch.EntityMeta)...)
	}

	if plan.Description != "" {
		parts = append(parts, plan.Description)
	}

	if plan.SceneID != "" {
		sc, err := a.Registry.Scene(plan.SceneID)
		if err != nil {
			return GenerationInstruction{}, newError(ErrKindMissingParticipant, "scene %q not in registry", plan.SceneID)
		}
		parts = append(parts, entityDescriptor("scene", sc.ID, sc.Name, sig.ActiveFor(sc.ID)))
		assets = append(assets, refAssets(&sc.EntityMeta)...)
		if sc.AtmosphereRefImage != "" {
			assets = append(assets, ReferenceAsset{EntityID: sc.ID, ImageLocator: sc.AtmosphereRefImage})
		}
	}

	for _, id := range plan.PropIDs {
		pr, err := a.Registry.Prop(id)
		if err != nil {
			return GenerationInstruction{}, newError(ErrKindMissingParticipant, "prop %q not in registry", id)
		}
		parts = append(parts, entityDescriptor("prop", pr.ID, pr.Name, sig.ActiveFor(pr.ID)))
		assets = append(assets, refAssets(&pr.EntityMeta)...)
	}

	if a.StyleID != "" {
		st, err := a.Registry.Style(a.StyleID)
		if err != nil {
			return GenerationInstruction{}, newError(ErrKindMissingParticipant, "style %q not in registry", a.StyleID)
		}
		parts = append(parts, entityDescriptor("style", st.ID, st.Name, sig.ActiveFor(st.ID)))
		assets = append(assets, refAssets(&st.EntityMeta)...)
	}

	parts = append(parts, technicalSuffix)

	prompt := strings.Join(parts, ". ")
	if a.ConsistencyPrefix != "" {
		prompt = a.ConsistencyPrefix + " " + prompt
	}

	return GenerationInstruction{
		ShotNumber:      plan.ShotNumber,
		Prompt:          prompt,
		NegativePrompt:  tmpl.NegativePrompt,
		Camera:          camera,
		Weights:         weights,
		ReferenceAssets: assets,
	}, nil
}

// entityDescriptor 实体描述占位符：绑定实体 id 与仲裁后的特征集。
// 真实参考图绑定在指令递交给生成引擎时进行。
func entityDescriptor(kind, id, name string, attrs []SignalAttribute) string {
	var features []string
	for _, attr := range attrs {
		if attr.Value != "" {
			features = append(features, string(attr.Aspect)+"="+attr.Value)
		}
	}
	if len(features) == 0 {
		return fmt.Sprintf("[%s:%s] %s", kind, id, name)
	}
	return fmt.Sprintf("[%s:%s] %s (%s)", kind, id, name, strings.Join(features, "; "))
}

func refAssets(meta *EntityMeta) []ReferenceAsset {
	// 与参考收集逻辑一致，每个实体最多取前两张参考图
	assets := make([]ReferenceAsset, 0, 2)
	for i, loc := range meta.RefImages {
		if i >= 2 {
			break
		}
		assets = append(assets, ReferenceAsset{EntityID: meta.ID, ImageLocator: loc})
	}
	return assets
}
