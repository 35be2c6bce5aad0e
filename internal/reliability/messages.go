package reliability

import "fmt"

const otherDetailRunes = 100

// UserMessage renders the user-facing text for a final failure. Clients key
// off the emoji prefixes, so the wording must stay stable.
func UserMessage(class Classification, err error) string {
	switch class {
	case ClassRateLimited:
		return "🚫 API调用频率限制，请稍后再试。建议等待1-2分钟后重新发送消息。"
	case ClassNetwork:
		return "🔌 网络连接问题，请检查网络后重试。"
	case ClassAuth:
		return "🔑 API认证错误，请检查API密钥配置。"
	default:
		detail := ""
		if err != nil {
			detail = truncateRunes(err.Error(), otherDetailRunes)
		}
		return fmt.Sprintf("❌ 系统错误: %s", detail)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
