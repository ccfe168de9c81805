package bot

import (
	"fmt"
	"regexp"
	"strings"
)

// User-facing messages. The webhook channel is shared, so some of these
// come back to the bot as inbound events; isOwnPrompt filters them.
const (
	msgAnalyzingText  = "請求書情報を解析中..."
	msgAnalyzingImage = "画像から請求書情報を解析中..."
	msgAnalyzingAudio = "音声から請求書情報を解析中..."

	msgUnsupportedType = "このメッセージタイプはサポートされていません。テキスト、画像、または音声メッセージを送信してください。"

	msgSelectionPending = "前の請求書の発行者選択が完了していません。「1」または「2」を入力するか、「キャンセル」と入力してください。"

	msgCancelled = "キャンセルしました。新しく請求書を作成する場合は、再度メッセージを送信してください。"

	msgReprompt = "「1」または「2」を入力してください。キャンセルする場合は「キャンセル」と入力してください。"

	msgStateCorrupted = "保存されていた請求書データを読み込めませんでした。お手数ですが、最初からやり直してください。"

	// TimeoutNotice is sent by the sweeper when a pending selection expires.
	TimeoutNotice = "⏱️ 一定時間操作がなかったため、処理を中断しました。\n\n新しく請求書を作成する場合は、再度メッセージを送信してください。"

	selectionPromptPrefix = "請求書の発行者情報を選択してください"
	draftCreatedMarker    = "請求書の下書きを作成しました！"
)

func draftCreatedMessage(pattern int, editURL string) string {
	return fmt.Sprintf("パターン%dで請求書の下書きを作成しました！\n\n以下のURLから編集できます:\n%s", pattern, editURL)
}

func errorMessage(err error) string {
	return fmt.Sprintf("エラーが発生しました: %v", err)
}

var (
	mentionPattern = regexp.MustCompile(`@_user_\d+\s*`)
	bareURLPattern = regexp.MustCompile(`^https?://\S+$`)
)

// stripMentions removes platform mention tokens from message text.
func stripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// isBareURL reports whether the text is nothing but a URL. Lark re-emits
// link previews as separate messages that would otherwise trigger a
// pointless extraction.
func isBareURL(text string) bool {
	return bareURLPattern.MatchString(strings.TrimSpace(text))
}

// isOwnPrompt reports whether the text is one of the bot's own prompts
// echoed back through the shared channel.
func isOwnPrompt(text string) bool {
	text = strings.TrimSpace(text)
	switch {
	case text == TimeoutNotice:
		return true
	case strings.HasPrefix(text, selectionPromptPrefix):
		return true
	case strings.Contains(text, draftCreatedMarker):
		return true
	case text == msgSelectionPending || text == msgReprompt || text == msgCancelled:
		return true
	}
	return false
}
