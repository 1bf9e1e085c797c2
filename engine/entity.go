package engine

// Variant 参考实体的四种变体
type Variant string

const (
	VariantCharacter Variant = "character"
	VariantScene     Variant = "scene"
	VariantProp      Variant = "prop"
	VariantStyle     Variant = "style"
)

// 角色可锁定的特征类别。face 与 hair/body 一旦锁定不可妥协。
const (
	CharFeatureFace     = "face"
	CharFeatureBodyType = "body_type"
	CharFeatureCostume  = "costume"
	CharFeatureHair     = "hair"
)

// 场景可锁定的特征类别
const (
	SceneFeatureStructure = "structure"
	SceneFeatureLighting  = "lighting"
	SceneFeatureColorTemp = "color_temperature"
)

// StyleMode 风格的配置方式
type StyleMode string

const (
	StyleModePreset         StyleMode = "preset"
	StyleModeReferenceImage StyleMode = "reference_image"
	StyleModeTextDesc       StyleMode = "text_description"
)

// EntityMeta 四种变体共有的属性
type EntityMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// 参考图定位符，有序。实际像素内容由外部特征提取服务处理。
	RefImages []string `json:"ref_images"`
	// 基础一致性权重，标称范围 0.0–1.0，归一化前可短暂超过 1.0
	ConsistencyWeight float64 `json:"consistency_weight"`
}

// Entity 参考实体的 tagged union。所有消费方必须穷举四种变体。
type Entity interface {
	Variant() Variant
	Meta() *EntityMeta
}

// Character 角色实体
type Character struct {
	EntityMeta
	// 锁定特征集合，取值见 CharFeature* 常量
	LockedFeatures []string `json:"locked_features"`
	Appearance     string   `json:"appearance"`
	Clothing       string   `json:"clothing"`
}

func (c *Character) Variant() Variant  { return VariantCharacter }
func (c *Character) Meta() *EntityMeta { return &c.EntityMeta }

// FeatureLocked 判断某特征类别是否已锁定
func (c *Character) FeatureLocked(feature string) bool {
	for _, f := range c.LockedFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

// Scene 场景实体。空间结构参考与氛围/光照参考相互独立。
type Scene struct {
	EntityMeta
	// 氛围/光照参考图，独立于结构参考（RefImages）
	AtmosphereRefImage string `json:"atmosphere_ref_image"`
	Description        string `json:"description"`
	// 场景参考图隐含的光照描述，与风格声明的光照冲突时风格优先
	Lighting string `json:"lighting"`
	// 场景参考图隐含的空间比例描述，道具比例与之冲突时道具被重缩放
	ImpliedScale   string   `json:"implied_scale"`
	LockedFeatures []string `json:"locked_features"`
}

func (s *Scene) Variant() Variant  { return VariantScene }
func (s *Scene) Meta() *EntityMeta { return &s.EntityMeta }

// Prop 道具实体
type Prop struct {
	EntityMeta
	// 相对人体的比例描述，如 "与成人手掌等大"
	ScaleReference string `json:"scale_reference"`
	Material       string `json:"material"`
}

func (p *Prop) Variant() Variant  { return VariantProp }
func (p *Prop) Meta() *EntityMeta { return &p.EntityMeta }

// StyleWeights 风格的四个权重维度
type StyleWeights struct {
	RenderType    float64 `json:"render_type"`
	ColorTendency float64 `json:"color_tendency"`
	LightingStyle float64 `json:"lighting_style"`
	Texture       float64 `json:"texture"`
}

// Style 风格实体
type Style struct {
	EntityMeta
	Mode        StyleMode    `json:"mode"`
	Description string       `json:"description"`
	// 风格声明的光照倾向，如 "高对比冷光"
	Lighting string       `json:"lighting"`
	Weights  StyleWeights `json:"weights"`
	// 风格参考图中是否检测到人物主体特征（由外部特征提取服务标记）。
	// 为 true 时这些特征在加权前必须被剥离，风格不允许把人脸泄漏到角色上。
	RefImageHasHumanSubject bool `json:"ref_image_has_human_subject"`
}

func (s *Style) Variant() Variant  { return VariantStyle }
func (s *Style) Meta() *EntityMeta { return &s.EntityMeta }
