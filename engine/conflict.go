package engine

// 跨类别仲裁的固定优先级，数值越小优先级越高
const (
	PriorityCharacterFace  = 1
	PriorityCharacterBody  = 2
	PriorityPropAppearance = 3
	PrioritySceneStructure = 4
	PrioritySceneLighting  = 5
	PriorityStyleTone      = 6
)

// Aspect 可能被多个来源同时声明的视觉属性维度
type Aspect string

const (
	AspectHumanSubject Aspect = "human_subject" // 人物面部/形体特征
	AspectBody         Aspect = "body"          // 形体与服装
	AspectAppearance   Aspect = "appearance"    // 道具外观
	AspectStructure    Aspect = "structure"     // 场景空间结构
	AspectLighting     Aspect = "lighting"      // 光照/氛围
	AspectScale        Aspect = "scale"         // 空间比例
	AspectTone         Aspect = "tone"          // 整体风格调性
)

// SignalAttribute 解析信号中的单条视觉属性。
// Suppressed 只表示在本镜头的信号中被排除，实体本身的属性不被删除。
type SignalAttribute struct {
	Priority   int     `json:"priority"`
	Aspect     Aspect  `json:"aspect"`
	Source     Variant `json:"source"`
	EntityID   string  `json:"entity_id"`
	Value      string  `json:"value"`
	Suppressed bool    `json:"suppressed"`
	// 道具比例被重缩放为场景参考时置位，Value 已替换为场景比例
	Rescaled bool `json:"rescaled,omitempty"`
}

// ResolvedSignal 冲突仲裁后的镜头视觉信号
type ResolvedSignal struct {
	Attributes []SignalAttribute `json:"attributes"`
}

// Active 返回未被抑制的属性
func (s ResolvedSignal) Active() []SignalAttribute {
	out := make([]SignalAttribute, 0, len(s.Attributes))
	for _, a := range s.Attributes {
		if !a.Suppressed {
			out = append(out, a)
		}
	}
	return out
}

// ActiveFor 返回某实体未被抑制的属性
func (s ResolvedSignal) ActiveFor(entityID string) []SignalAttribute {
	var out []SignalAttribute
	for _, a := range s.Attributes {
		if !a.Suppressed && a.EntityID == entityID {
			out = append(out, a)
		}
	}
	return out
}

// ResolveConflicts 在提示词装配前对参与实体做冲突仲裁。
// style 允许为 nil（项目未配置风格）。
func ResolveConflicts(entities []Entity, style *Style) ResolvedSignal {
	sig := buildSignal(entities, style)
	return ResolveSignal(sig)
}

// buildSignal 从实体提取原始属性声明
func buildSignal(entities []Entity, style *Style) ResolvedSignal {
	var attrs []SignalAttribute

	for _, e := range entities {
		switch ent := e.(type) {
		case *Character:
			if ent.FeatureLocked(CharFeatureFace) || ent.FeatureLocked(CharFeatureHair) {
				attrs = append(attrs, SignalAttribute{
					Priority: PriorityCharacterFace,
					Aspect:   AspectHumanSubject,
					Source:   VariantCharacter,
					EntityID: ent.ID,
					Value:    ent.Appearance,
				})
			}
			if ent.FeatureLocked(CharFeatureBodyType) || ent.FeatureLocked(CharFeatureCostume) {
				attrs = append(attrs, SignalAttribute{
					Priority: PriorityCharacterBody,
					Aspect:   AspectBody,
					Source:   VariantCharacter,
					EntityID: ent.ID,
					Value:    ent.Clothing,
				})
			}
		case *Prop:
			attrs = append(attrs, SignalAttribute{
				Priority: PriorityPropAppearance,
				Aspect:   AspectAppearance,
				Source:   VariantProp,
				EntityID: ent.ID,
				Value:    ent.Material,
			})
			if ent.ScaleReference != "" {
				attrs = append(attrs, SignalAttribute{
					Priority: PriorityPropAppearance,
					Aspect:   AspectScale,
					Source:   VariantProp,
					EntityID: ent.ID,
					Value:    ent.ScaleReference,
				})
			}
		case *Scene:
			attrs = append(attrs, SignalAttribute{
				Priority: PrioritySceneStructure,
				Aspect:   AspectStructure,
				Source:   VariantScene,
				EntityID: ent.ID,
				Value:    ent.Description,
			})
			if ent.Lighting != "" {
				attrs = append(attrs, SignalAttribute{
					Priority: PrioritySceneLighting,
					Aspect:   AspectLighting,
					Source:   VariantScene,
					EntityID: ent.ID,
					Value:    ent.Lighting,
				})
			}
			if ent.ImpliedScale != "" {
				attrs = append(attrs, SignalAttribute{
					Priority: PrioritySceneStructure,
					Aspect:   AspectScale,
					Source:   VariantScene,
					EntityID: ent.ID,
					Value:    ent.ImpliedScale,
				})
			}
		case *Style:
			// 通过 entities 传入的风格与 style 参数等价处理
			attrs = append(attrs, styleAttributes(ent)...)
		}
	}
	if style != nil {
		attrs = append(attrs, styleAttributes(style)...)
	}
	return ResolvedSignal{Attributes: attrs}
}

func styleAttributes(s *Style) []SignalAttribute {
	attrs := []SignalAttribute{{
		Priority: PriorityStyleTone,
		Aspect:   AspectTone,
		Source:   VariantStyle,
		EntityID: s.ID,
		Value:    s.Description,
	}}
	if s.Lighting != "" {
		attrs = append(attrs, SignalAttribute{
			Priority: PriorityStyleTone,
			Aspect:   AspectLighting,
			Source:   VariantStyle,
			EntityID: s.ID,
			Value:    s.Lighting,
		})
	}
	if s.RefImageHasHumanSubject {
		attrs = append(attrs, SignalAttribute{
			Priority: PriorityStyleTone,
			Aspect:   AspectHumanSubject,
			Source:   VariantStyle,
			EntityID: s.ID,
			Value:    "style reference human subject",
		})
	}
	return attrs
}

// ResolveSignal 对信号做仲裁。幂等：对已仲裁的信号重复调用结果不变。
//
// 规则：
//  1. 风格参考图中的人物特征无条件剥离（强制过滤，非优先级仲裁）；
//  2. 场景隐含光照与风格声明光照冲突时，风格胜出；
//  3. 道具比例与场景隐含比例冲突时，道具被重缩放为场景参考；
//  4. 其余同 Aspect 跨类别冲突按优先级压低者；同类别同级实体全部保留。
func ResolveSignal(sig ResolvedSignal) ResolvedSignal {
	out := ResolvedSignal{Attributes: make([]SignalAttribute, len(sig.Attributes))}
	copy(out.Attributes, sig.Attributes)
	attrs := out.Attributes

	// 规则 1：风格不允许把人脸泄漏到角色上
	for i := range attrs {
		if attrs[i].Source == VariantStyle && attrs[i].Aspect == AspectHumanSubject {
			attrs[i].Suppressed = true
		}
	}

	// 规则 2：光照冲突，风格优先于场景
	styleLighting := findActive(attrs, AspectLighting, VariantStyle)
	if styleLighting >= 0 {
		for i := range attrs {
			if attrs[i].Aspect == AspectLighting && attrs[i].Source == VariantScene &&
				attrs[i].Value != attrs[styleLighting].Value {
				attrs[i].Suppressed = true
			}
		}
	}

	// 规则 3：道具比例重缩放为场景参考，场景属性保留
	sceneScale := findActive(attrs, AspectScale, VariantScene)
	if sceneScale >= 0 {
		for i := range attrs {
			if attrs[i].Aspect == AspectScale && attrs[i].Source == VariantProp &&
				!attrs[i].Suppressed && attrs[i].Value != attrs[sceneScale].Value {
				attrs[i].Value = attrs[sceneScale].Value
				attrs[i].Rescaled = true
			}
		}
	}

	// 规则 4：通用跨类别优先级仲裁。同优先级（同类别平级实体）互不抑制，
	// 例如过肩镜头的前景/背景角色各自保留锁定面部。
	for _, aspect := range []Aspect{AspectHumanSubject, AspectBody, AspectAppearance, AspectStructure, AspectLighting, AspectScale, AspectTone} {
		best := 0
		for i := range attrs {
			if attrs[i].Aspect == aspect && !attrs[i].Suppressed {
				if best == 0 || attrs[i].Priority < best {
					best = attrs[i].Priority
				}
			}
		}
		if best == 0 {
			continue
		}
		for i := range attrs {
			if attrs[i].Aspect == aspect && !attrs[i].Suppressed && attrs[i].Priority > best {
				// 已重缩放的道具比例不再视为冲突来源
				if attrs[i].Rescaled {
					continue
				}
				if conflictsWithin(attrs, aspect, best, attrs[i].Value) {
					attrs[i].Suppressed = true
				}
			}
		}
	}
	return out
}

// findActive 返回首个未抑制的指定维度/来源属性下标，找不到返回 -1
func findActive(attrs []SignalAttribute, aspect Aspect, source Variant) int {
	for i := range attrs {
		if attrs[i].Aspect == aspect && attrs[i].Source == source && !attrs[i].Suppressed {
			return i
		}
	}
	return -1
}

// conflictsWithin 判断 value 是否与某优先级层内任一属性值不一致
func conflictsWithin(attrs []SignalAttribute, aspect Aspect, priority int, value string) bool {
	for i := range attrs {
		if attrs[i].Aspect == aspect && attrs[i].Priority == priority && !attrs[i].Suppressed {
			if attrs[i].Value != value {
				return true
			}
		}
	}
	return false
}
