package companion

// Archetype selects the prompt template and scripted replies of a companion.
type Archetype string

const (
	Listener    Archetype = "listener"
	Cheerleader Archetype = "cheerleader"
	Analyst     Archetype = "analyst"
	Friend      Archetype = "companion"
	Dreamer     Archetype = "dreamer"
)

// Companion captures the role-playing attributes exposed to clients.
type Companion struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	AvatarID    string    `json:"avatar_id"`
	Archetype   Archetype `json:"personality_archetype"`
	Greeting    string    `json:"custom_greeting"`
	Description string    `json:"description,omitempty"`
	Traits      []string  `json:"traits,omitempty"` // 性格特征
}

// Seed provides the default companions offered to new users.
func Seed() []Companion {
	return []Companion{
		{
			ID:          1,
			Name:        "小温",
			AvatarID:    "gentle_girl",
			Archetype:   Listener,
			Greeting:    "你好呀~我是小温，随时准备倾听你的心声💖",
			Description: "温柔体贴的倾听者，总是能给予温暖的理解和安慰",
			Traits:      []string{"温柔", "耐心", "善解人意"},
		},
		{
			ID:          2,
			Name:        "小阳",
			AvatarID:    "energetic_boy",
			Archetype:   Cheerleader,
			Greeting:    "嗨！我是小阳！今天也要元气满满哦✨",
			Description: "充满活力的鼓励者，总能发现生活中的美好和希望",
			Traits:      []string{"乐观", "热情", "积极"},
		},
		{
			ID:          3,
			Name:        "小智",
			AvatarID:    "wise_elder",
			Archetype:   Analyst,
			Greeting:    "你好，我是小智。让我们理性地分析一下吧🧠",
			Description: "理性客观的分析师，擅长提供深度见解和逻辑思考",
			Traits:      []string{"理性", "客观", "深刻"},
		},
		{
			ID:          4,
			Name:        "小月",
			AvatarID:    "calm_girl",
			Archetype:   Friend,
			Greeting:    "晚上好呀~我是小月，陪你聊聊天吧🌙",
			Description: "温柔陪伴型伙伴，善于共情和情感支持",
			Traits:      []string{"安静", "共情", "陪伴"},
		},
		{
			ID:          5,
			Name:        "小星",
			AvatarID:    "dreamer_boy",
			Archetype:   Dreamer,
			Greeting:    "Hi！我是小星，一起探索无限可能吧⭐",
			Description: "富有创意的梦想家，鼓励你追逐梦想和探索未知",
			Traits:      []string{"好奇", "创意", "浪漫"},
		},
	}
}
