package engine

import "sync"

// ReferenceChecker 判断某实体当前是否仍被项目内的镜头引用。
// 由 Project 层注入，注册表本身不持有镜头。
type ReferenceChecker func(variant Variant, id string) bool

// Registry 参考实体注册表。读多写少：并发再生成的镜头共享只读访问，
// 写入（增删实体）与生成管线串行。
type Registry struct {
	mu sync.RWMutex
	// 每个变体一个独立的 id 命名空间
	entities map[Variant]map[string]Entity
	// 已删除的 id 在同一项目会话内不允许复用
	retired map[Variant]map[string]bool
	inUse   ReferenceChecker
}

func NewRegistry() *Registry {
	r := &Registry{
		entities: make(map[Variant]map[string]Entity),
		retired:  make(map[Variant]map[string]bool),
	}
	for _, v := range []Variant{VariantCharacter, VariantScene, VariantProp, VariantStyle} {
		r.entities[v] = make(map[string]Entity)
		r.retired[v] = make(map[string]bool)
	}
	return r
}

// SetReferenceChecker 注入引用检查（项目装配时调用一次）
func (r *Registry) SetReferenceChecker(check ReferenceChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inUse = check
}

// Register 注册实体，同一变体命名空间内 id 重复（含已删除的 id）返回 duplicate_id
func (r *Registry) Register(e Entity) (string, error) {
	meta := e.Meta()
	if meta.ID == "" || meta.Name == "" {
		return "", newError(ErrKindValidation, "entity id and name are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ns := r.entities[e.Variant()]
	if _, ok := ns[meta.ID]; ok {
		return "", newError(ErrKindDuplicateId, "%s %q already registered", e.Variant(), meta.ID)
	}
	if r.retired[e.Variant()][meta.ID] {
		return "", newError(ErrKindDuplicateId, "%s id %q was retired and cannot be reused", e.Variant(), meta.ID)
	}
	ns[meta.ID] = e
	return meta.ID, nil
}

// Get 按变体与 id 查找实体
func (r *Registry) Get(variant Variant, id string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[variant][id]
	if !ok {
		return nil, newError(ErrKindNotFound, "%s %q not found", variant, id)
	}
	return e, nil
}

// Remove 删除实体。仍被任何镜头引用时拒绝删除，原状态保持不变。
func (r *Registry) Remove(variant Variant, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entities[variant][id]; !ok {
		return newError(ErrKindNotFound, "%s %q not found", variant, id)
	}
	if r.inUse != nil && r.inUse(variant, id) {
		return newError(ErrKindReferenced, "%s %q is still referenced by shots", variant, id)
	}
	delete(r.entities[variant], id)
	r.retired[variant][id] = true
	return nil
}

// Character 便捷取角色，变体不匹配按 not_found 处理
func (r *Registry) Character(id string) (*Character, error) {
	e, err := r.Get(VariantCharacter, id)
	if err != nil {
		return nil, err
	}
	return e.(*Character), nil
}

func (r *Registry) Scene(id string) (*Scene, error) {
	e, err := r.Get(VariantScene, id)
	if err != nil {
		return nil, err
	}
	return e.(*Scene), nil
}

func (r *Registry) Prop(id string) (*Prop, error) {
	e, err := r.Get(VariantProp, id)
	if err != nil {
		return nil, err
	}
	return e.(*Prop), nil
}

func (r *Registry) Style(id string) (*Style, error) {
	e, err := r.Get(VariantStyle, id)
	if err != nil {
		return nil, err
	}
	return e.(*Style), nil
}

// List 返回某变体下全部实体（快照，顺序不保证）
func (r *Registry) List(variant Variant) []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.entities[variant]))
	for _, e := range r.entities[variant] {
		out = append(out, e)
	}
	return out
}
