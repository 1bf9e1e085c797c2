package models

import (
	"encoding/json"
	"time"

	"StoryboardPro-server/engine"

	"gorm.io/gorm"
)

// ShotRecord 单镜头的导出记录
type ShotRecord struct {
	ShotNumber       int                 `json:"shot_number"`
	Template         string              `json:"template"`
	Description      string              `json:"description"`
	CharactersInShot []string            `json:"characters_in_shot"`
	PropsInShot      []string            `json:"props_in_shot"`
	// 无场景镜头导出为 null，不是空串
	Scene            *string             `json:"scene"`
	Camera           engine.CameraParams `json:"camera"`
	SlotWeights      map[string]float64  `json:"slot_weights"`
	GeneratedPrompt  string              `json:"generated_prompt"`
	OutputImage      string              `json:"output_image"`
	ConsistencyScore *float64            `json:"consistency_score"`
}

// ProjectMeta 项目导出的元信息
type ProjectMeta struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
}

// ProjectReferences 按变体分组的参考实体
type ProjectReferences struct {
	Characters []json.RawMessage `json:"characters"`
	Scenes     []json.RawMessage `json:"scenes"`
	Props      []json.RawMessage `json:"props"`
	Style      json.RawMessage   `json:"style,omitempty"`
}

// ProjectExport 整个项目的导出文档
type ProjectExport struct {
	ProjectMeta ProjectMeta       `json:"project_meta"`
	AspectRatio string            `json:"aspect_ratio"`
	References  ProjectReferences `json:"references"`
	Shots       []ShotRecord      `json:"shots"`
}

// ExportShot 由数据库记录构造导出记录
func ExportShot(s *Shot) ShotRecord {
	var scene *string
	if s.SceneId != "" {
		scene = &s.SceneId
	}
	return ShotRecord{
		ShotNumber:       s.ShotNumber,
		Template:         s.Template,
		Description:      s.Description,
		CharactersInShot: append([]string{}, s.CharactersInShot...),
		PropsInShot:      append([]string{}, s.PropsInShot...),
		Scene:            scene,
		Camera:           engine.CameraParams(s.Camera),
		SlotWeights:      s.SlotWeights,
		GeneratedPrompt:  s.GeneratedPrompt,
		OutputImage:      s.OutputImage,
		ConsistencyScore: s.ConsistencyScore,
	}
}

// ExportProject 汇总项目、实体与镜头为导出文档
func ExportProject(db *gorm.DB, projectID string) (*ProjectExport, error) {
	project, err := GetProjectByID(db, projectID)
	if err != nil {
		return nil, err
	}
	entities, err := GetEntitiesByProjectID(db, projectID)
	if err != nil {
		return nil, err
	}
	shots, err := GetShotsByProjectID(db, projectID)
	if err != nil {
		return nil, err
	}

	out := &ProjectExport{
		ProjectMeta: ProjectMeta{
			Name:      project.Name,
			CreatedAt: project.CreatedAt,
			Version:   project.Version,
		},
		AspectRatio: project.AspectRatio,
		References: ProjectReferences{
			Characters: []json.RawMessage{},
			Scenes:     []json.RawMessage{},
			Props:      []json.RawMessage{},
		},
		Shots: make([]ShotRecord, 0, len(shots)),
	}

	for i := range entities {
		ent, err := entities[i].ToEngine()
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(ent)
		if err != nil {
			return nil, err
		}
		switch ent.Variant() {
		case engine.VariantCharacter:
			out.References.Characters = append(out.References.Characters, raw)
		case engine.VariantScene:
			out.References.Scenes = append(out.References.Scenes, raw)
		case engine.VariantProp:
			out.References.Props = append(out.References.Props, raw)
		case engine.VariantStyle:
			out.References.Style = raw
		}
	}

	for i := range shots {
		out.Shots = append(out.Shots, ExportShot(&shots[i]))
	}
	return out, nil
}
