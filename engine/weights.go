package engine

// WeightVector 每个槽位类别的最终权重，对应输出记录的 slot_weights
type WeightVector map[string]float64

// Sum 各类别权重之和
func (w WeightVector) Sum() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// Clone 返回副本
func (w WeightVector) Clone() WeightVector {
	out := make(WeightVector, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// DefaultWeightCeiling 权重总和上限。超出后整体等比缩放到该值，
// 过多强信号会压垮下游生成指令的连贯性。
const DefaultWeightCeiling = 2.5

// Participant 参与镜头的实体及其注册表基础权重
type Participant struct {
	EntityID   string
	BaseWeight float64
}

// ComposeWeights 合成镜头最终权重向量：模板默认值 → 用户覆盖（整值替换）
// → 按参与实体基础权重相乘 → 超上限整体缩放。纯函数，相同输入恒得相同输出。
//
// participants 以槽位为键；某槽位没有参与实体时该槽位权重恒为 0。
// 全零向量是合法的“空镜头”（画面完全由叙事文本驱动），不是错误。
func ComposeWeights(t ShotTemplate, overrides WeightVector, participants map[string][]Participant) WeightVector {
	return ComposeWeightsWithCeiling(t, overrides, participants, DefaultWeightCeiling)
}

// ComposeWeightsWithCeiling 同 ComposeWeights，上限可配置
func ComposeWeightsWithCeiling(t ShotTemplate, overrides WeightVector, participants map[string][]Participant, ceiling float64) WeightVector {
	w := t.DefaultWeights()

	// 用户覆盖是显式意图，直接替换而非混合
	for slot, v := range overrides {
		if _, ok := w[slot]; ok {
			w[slot] = v
		}
	}

	// 实体基础权重逐槽位相乘；同槽位多个实体的贡献相加
	for slot, nominal := range w {
		ps := participants[slot]
		if len(ps) == 0 {
			w[slot] = 0
			continue
		}
		contribution := 0.0
		for _, p := range ps {
			contribution += nominal * p.BaseWeight
		}
		w[slot] = contribution
	}

	// 总和超上限时等比缩放，保持类别间比例不变
	if sum := w.Sum(); sum > ceiling {
		scale := ceiling / sum
		for slot := range w {
			w[slot] *= scale
		}
	}
	return w
}
