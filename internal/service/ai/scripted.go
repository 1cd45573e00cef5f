package ai

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/companion-chat/internal/model/chat"
	"github.com/zhouzirui/companion-chat/internal/model/companion"
)

const defaultChunkRunes = 4

var scriptedReplies = map[companion.Archetype][]string{
	companion.Listener: {
		"我听到你说的了。听起来你现在的心情怎么样呢？💖",
		"嗯嗯，我理解你的感受。能和我详细说说吗？",
		"谢谢你愿意和我分享这些。你一定经历了很多吧。",
	},
	companion.Cheerleader: {
		"哇！听你这么说我也充满能量了！✨继续加油哦！",
		"太棒了！你真的很厉害！💪这样的态度一定会成功的！",
		"耶！我就知道你可以的！🎉保持这份热情，未来一定很精彩！",
	},
	companion.Analyst: {
		"关于你提到的问题，我们可以从几个角度来分析：首先...其次...最后...",
		"这是一个很有意思的话题。让我们理性地思考一下其中的逻辑。",
		"从你的描述来看，这个情况包含几个关键因素。我们一一分析。",
	},
}

// ScriptedResponder 在未配置模型时使用，按伙伴类型轮换预设回复并分片输出。
type ScriptedResponder struct {
	// ChunkRunes 是每个分片的字符数，默认 4。
	ChunkRunes int
	// Delay 是相邻分片之间的间隔。
	Delay time.Duration
}

// Reply 返回本轮的完整回复，已有消息数决定轮换位置。
func (r ScriptedResponder) Reply(c companion.Companion, history []chat.Message, userMessage string) string {
	replies, ok := scriptedReplies[c.Archetype]
	if !ok {
		return "我听到你说: " + userMessage + "\n\n这是Mock模式的回复。"
	}
	return replies[len(history)/2%len(replies)]
}

// Stream 通过 schema.Pipe 逐片写出回复；ctx 取消时提前结束。
func (r ScriptedResponder) Stream(ctx context.Context, c companion.Companion, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	chunks := split(r.Reply(c, history, userMessage), r.ChunkRunes)
	reader, writer := schema.Pipe[*schema.Message](len(chunks))

	go func() {
		defer writer.Close()
		for i, text := range chunks {
			if i > 0 && r.Delay > 0 {
				select {
				case <-ctx.Done():
					writer.Send(nil, ctx.Err())
					return
				case <-time.After(r.Delay):
				}
			}
			if closed := writer.Send(schema.AssistantMessage(text, nil), nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

func split(text string, size int) []string {
	if size <= 0 {
		size = defaultChunkRunes
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
