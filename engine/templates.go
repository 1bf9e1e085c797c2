package engine

// 权重槽位类别（对应 slot_weights 的键）
const (
	SlotCharacter   = "character"
	SlotCharacterFG = "character_fg" // 仅过肩模板
	SlotCharacterBG = "character_bg" // 仅过肩模板
	SlotScene       = "scene"
	SlotProps       = "props"
	SlotStyle       = "style"
)

// AngleRange 相机角度取值区间（度）
type AngleRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// CameraSpec 模板的相机参数范围
type CameraSpec struct {
	// 景别：wide / medium / close_up 等
	Distance        string     `json:"distance"`
	VerticalAngle   AngleRange `json:"vertical_angle"`
	HorizontalAngle AngleRange `json:"horizontal_angle"`
	// 标称焦距（mm）
	FocalLength int `json:"focal_length"`
}

// TemplateWeights 模板的默认槽位权重。过肩模板用 CharacterFG/BG 替代 Character。
type TemplateWeights struct {
	Character   float64
	CharacterFG float64
	CharacterBG float64
	Scene       float64
	Props       float64
	Style       float64
}

// ShotTemplate 镜头模板。进程启动时构建一次，之后只读。
type ShotTemplate struct {
	ID          string
	Name        string
	Camera      CameraSpec
	Composition string
	Weights     TemplateWeights
	// 过肩模板携带前景/背景两个角色子权重
	DualCharacter  bool
	NegativePrompt string
}

// DefaultWeights 返回模板默认权重向量的新副本，调用方可安全修改
func (t ShotTemplate) DefaultWeights() WeightVector {
	w := WeightVector{
		SlotScene: t.Weights.Scene,
		SlotProps: t.Weights.Props,
		SlotStyle: t.Weights.Style,
	}
	if t.DualCharacter {
		w[SlotCharacterFG] = t.Weights.CharacterFG
		w[SlotCharacterBG] = t.Weights.CharacterBG
	} else {
		w[SlotCharacter] = t.Weights.Character
	}
	return w
}

// 九个固定模板。配置数据，不是类层级。
var templateCatalog = map[string]ShotTemplate{
	"T1": {
		ID: "T1", Name: "establishing-wide",
		Camera: CameraSpec{
			Distance:        "wide",
			VerticalAngle:   AngleRange{Min: -5, Max: 15},
			HorizontalAngle: AngleRange{Min: -30, Max: 30},
			FocalLength:     18,
		},
		Composition:    "全景交代环境，地平线居于下三分之一，主体占画面不超过两成",
		Weights:        TemplateWeights{Character: 0.6, Scene: 0.9, Props: 0.8, Style: 0.4},
		NegativePrompt: "closeup face, cropped limbs, shallow depth of field",
	},
	"T2": {
		ID: "T2", Name: "environment-medium",
		Camera: CameraSpec{
			Distance:        "medium_wide",
			VerticalAngle:   AngleRange{Min: -5, Max: 10},
			HorizontalAngle: AngleRange{Min: -45, Max: 45},
			FocalLength:     35,
		},
		Composition:    "人物与环境并重，主体位于三分线交点，保留明确的空间纵深",
		Weights:        TemplateWeights{Character: 0.75, Scene: 0.85, Props: 0.5, Style: 0.35},
		NegativePrompt: "flat background, floating subject",
	},
	"T3": {
		ID: "T3", Name: "framed",
		Camera: CameraSpec{
			Distance:        "medium",
			VerticalAngle:   AngleRange{Min: -10, Max: 10},
			HorizontalAngle: AngleRange{Min: -60, Max: 60},
			FocalLength:     40,
		},
		Composition:    "利用门框/窗框/前景物形成画中画构图，主体被框体包围",
		Weights:        TemplateWeights{Character: 0.8, Scene: 0.7, Props: 0.6, Style: 0.35},
		NegativePrompt: "无前景遮挡, missing foreground frame",
	},
	"T4": {
		ID: "T4", Name: "standard-medium",
		Camera: CameraSpec{
			Distance:        "medium",
			VerticalAngle:   AngleRange{Min: -5, Max: 5},
			HorizontalAngle: AngleRange{Min: -30, Max: 30},
			FocalLength:     50,
		},
		Composition:    "腰部以上中景，视线高度平视，背景适度虚化",
		Weights:        TemplateWeights{Character: 0.85, Scene: 0.5, Props: 0.4, Style: 0.35},
		NegativePrompt: "extreme wide angle distortion",
	},
	"T5": {
		ID: "T5", Name: "over-the-shoulder",
		Camera: CameraSpec{
			Distance:        "medium_close",
			VerticalAngle:   AngleRange{Min: -5, Max: 5},
			HorizontalAngle: AngleRange{Min: 25, Max: 45},
			FocalLength:     85,
		},
		Composition:    "前景角色肩背占画面一侧约三分之一，对面角色正面受焦",
		Weights:        TemplateWeights{CharacterFG: 0.5, CharacterBG: 0.9, Scene: 0.4, Props: 0.3, Style: 0.3},
		DualCharacter:  true,
		NegativePrompt: "both faces in focus, symmetric framing",
	},
	"T6": {
		ID: "T6", Name: "close-up",
		Camera: CameraSpec{
			Distance:        "close_up",
			VerticalAngle:   AngleRange{Min: -5, Max: 5},
			HorizontalAngle: AngleRange{Min: -15, Max: 15},
			FocalLength:     85,
		},
		Composition:    "面部特写，眼睛位于上三分线，背景完全虚化",
		Weights:        TemplateWeights{Character: 0.95, Scene: 0.2, Props: 0.2, Style: 0.3},
		NegativePrompt: "full body, wide environment, multiple people",
	},
	"T7": {
		ID: "T7", Name: "low-angle",
		Camera: CameraSpec{
			Distance:        "medium",
			VerticalAngle:   AngleRange{Min: -35, Max: -15},
			HorizontalAngle: AngleRange{Min: -20, Max: 20},
			FocalLength:     24,
		},
		Composition:    "低机位仰拍，主体呈压迫感，天空或天花板占据上半画面",
		Weights:        TemplateWeights{Character: 0.85, Scene: 0.55, Props: 0.4, Style: 0.35},
		NegativePrompt: "eye level, high angle",
	},
	"T8": {
		ID: "T8", Name: "following",
		Camera: CameraSpec{
			Distance:        "medium",
			VerticalAngle:   AngleRange{Min: -5, Max: 5},
			HorizontalAngle: AngleRange{Min: 150, Max: 210},
			FocalLength:     35,
		},
		Composition:    "跟随背影移动，主体背部居中，运动方向留出画面空间",
		Weights:        TemplateWeights{Character: 0.8, Scene: 0.65, Props: 0.4, Style: 0.35},
		NegativePrompt: "frontal face, static posture",
	},
	"T9": {
		ID: "T9", Name: "point-of-view",
		Camera: CameraSpec{
			Distance:        "medium",
			VerticalAngle:   AngleRange{Min: -10, Max: 10},
			HorizontalAngle: AngleRange{Min: -10, Max: 10},
			FocalLength:     28,
		},
		Composition:    "第一人称主观视角，画面内不出现视点角色本体，可见其手部",
		Weights:        TemplateWeights{Character: 0.4, Scene: 0.8, Props: 0.6, Style: 0.35},
		NegativePrompt: "viewpoint character visible, third person framing",
	},
}

// TemplateIDs 按固定顺序返回全部模板 id
func TemplateIDs() []string {
	return []string{"T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8", "T9"}
}

// LookupTemplate 按 id 查模板。模板为值类型，返回的是副本。
func LookupTemplate(id string) (ShotTemplate, error) {
	t, ok := templateCatalog[id]
	if !ok {
		return ShotTemplate{}, newError(ErrKindUnknownTemplate, "unknown shot template %q", id)
	}
	return t, nil
}
