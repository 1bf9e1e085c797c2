package engine

import (
	"sync"
	"time"
)

// ProjectMeta 项目元信息，对应输出包装的 project_meta
type ProjectMeta struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
}

// Project 持有有序的镜头序列与实体注册表。镜头只保存实体 id（非拥有引用），
// 删除仍被引用的实体是校验错误而不是级联删除。
type Project struct {
	Meta        ProjectMeta
	AspectRatio string
	// 项目级风格实体 id
	StyleID string
	// 一致性前缀，拼接在每条生成提示词最前
	ConsistencyPrefix string
	Registry          *Registry

	mu    sync.RWMutex
	shots []*Shot
}

func NewProject(name, aspectRatio string) *Project {
	p := &Project{
		Meta: ProjectMeta{
			Name:      name,
			CreatedAt: time.Now(),
			Version:   "2.2",
		},
		AspectRatio: aspectRatio,
		Registry:    NewRegistry(),
	}
	p.Registry.SetReferenceChecker(p.referencesEntity)
	return p
}

// referencesEntity 任一镜头仍引用该实体则返回 true
func (p *Project) referencesEntity(variant Variant, id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.shots {
		switch variant {
		case VariantCharacter:
			for _, cid := range s.Plan.CharacterIDs {
				if cid == id {
					return true
				}
			}
		case VariantScene:
			if s.Plan.SceneID == id {
				return true
			}
		case VariantProp:
			for _, pid := range s.Plan.PropIDs {
				if pid == id {
					return true
				}
			}
		case VariantStyle:
			if p.StyleID == id {
				return true
			}
		}
	}
	// 风格是项目级引用，即使还没有镜头也生效
	if variant == VariantStyle && p.StyleID == id {
		return true
	}
	return false
}

// AddShot 追加镜头。序号必须为正且严格递增（定义生成顺序）。
func (p *Project) AddShot(plan ShotPlan) (*Shot, error) {
	if plan.ShotNumber < 1 {
		return nil, newError(ErrKindValidation, "shot number must be >= 1, got %d", plan.ShotNumber)
	}
	if _, err := LookupTemplate(plan.TemplateID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.shots); n > 0 && plan.ShotNumber <= p.shots[n-1].Plan.ShotNumber {
		return nil, newError(ErrKindValidation, "shot number %d not strictly increasing (last is %d)",
			plan.ShotNumber, p.shots[n-1].Plan.ShotNumber)
	}
	shot := &Shot{Plan: plan, State: StatePending}
	p.shots = append(p.shots, shot)
	return shot, nil
}

// Shots 镜头序列快照（切片副本，元素共享）
func (p *Project) Shots() []*Shot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Shot, len(p.shots))
	copy(out, p.shots)
	return out
}

// ShotByNumber 按序号查镜头
func (p *Project) ShotByNumber(n int) (*Shot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.shots {
		if s.Plan.ShotNumber == n {
			return s, nil
		}
	}
	return nil, newError(ErrKindNotFound, "shot %d not found", n)
}

// RemoveShot 删除镜头（解除其对实体的引用）
func (p *Project) RemoveShot(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.shots {
		if s.Plan.ShotNumber == n {
			p.shots = append(p.shots[:i], p.shots[i+1:]...)
			return nil
		}
	}
	return newError(ErrKindNotFound, "shot %d not found", n)
}

// Assembler 构造本项目的提示词装配器
func (p *Project) Assembler() *Assembler {
	return &Assembler{
		Registry:          p.Registry,
		StyleID:           p.StyleID,
		ConsistencyPrefix: p.ConsistencyPrefix,
	}
}
