package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/companion-chat/internal/model/companion"
)

// PromptTemplate defines the structure for companion prompts
type PromptTemplate struct {
	SystemPrompt     string
	PersonalityHints []string
	ContextRules     []string
}

// PromptManager manages prompt templates for the companion archetypes
type PromptManager struct {
	templates map[companion.Archetype]*PromptTemplate
}

// NewPromptManager creates a new prompt manager with default templates
func NewPromptManager() *PromptManager {
	manager := &PromptManager{
		templates: make(map[companion.Archetype]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template for a given archetype
func (pm *PromptManager) GetPromptTemplate(archetype companion.Archetype) (*PromptTemplate, error) {
	template, exists := pm.templates[archetype]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for archetype: %s", archetype)
	}
	return template, nil
}

// BuildSystemPrompt creates the system prompt for the companion
func (pm *PromptManager) BuildSystemPrompt(c companion.Companion) string {
	template, err := pm.GetPromptTemplate(c.Archetype)
	if err != nil {
		return pm.buildBasicSystemPrompt(c)
	}

	return fmt.Sprintf(`你是%s，%s

你的特质：
- %s

对话规则：
- %s

开场白参考：%s`,
		c.Name,
		template.SystemPrompt,
		strings.Join(template.PersonalityHints, "\n- "),
		strings.Join(template.ContextRules, "\n- "),
		c.Greeting,
	)
}

// buildBasicSystemPrompt is used for archetypes without a template
func (pm *PromptManager) buildBasicSystemPrompt(c companion.Companion) string {
	prompt := fmt.Sprintf("你是%s，一个友善的AI伙伴。请以友好、真诚的语气与用户对话。", c.Name)
	if c.Description != "" {
		prompt += "\n角色描述：" + c.Description
	}
	return prompt
}

func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates[companion.Listener] = &PromptTemplate{
		SystemPrompt: "一个温柔体贴的AI伙伴。",
		PersonalityHints: []string{
			"善于倾听，给人温暖的陪伴",
			"语气温和，充满关怀",
			"总是能理解和共情用户的感受",
			"会给出贴心的建议和鼓励",
		},
		ContextRules: []string{
			"请以温柔、关怀的语气与用户对话，像一个贴心的朋友一样",
		},
	}

	pm.templates[companion.Cheerleader] = &PromptTemplate{
		SystemPrompt: "一个充满活力的AI伙伴。",
		PersonalityHints: []string{
			"性格开朗，充满正能量",
			"总是鼓励用户，帮助发现生活的美好",
			"语气活泼，经常使用积极的词语",
			"善于激励人心，传递希望",
		},
		ContextRules: []string{
			"请以积极、活泼的语气与用户对话，像一个充满阳光的朋友",
		},
	}

	pm.templates[companion.Analyst] = &PromptTemplate{
		SystemPrompt: "一个理性深度的AI伙伴。",
		PersonalityHints: []string{
			"思维清晰，逻辑性强",
			"善于分析问题，提供深度见解",
			"客观理性，但不失人情味",
			"帮助用户理性思考问题",
		},
		ContextRules: []string{
			"请以理性、深度的语气与用户对话，像一个智慧的导师",
		},
	}
}
