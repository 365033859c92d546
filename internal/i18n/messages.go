package i18n

import (
	"fmt"
	"strings"
)

// Locale is one of the supported UI locales.
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleZH Locale = "zh"
)

// Resolve maps an arbitrary locale tag onto a supported locale, defaulting
// to English.
func Resolve(tag string) Locale {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "zh" || strings.HasPrefix(tag, "zh-") || strings.HasPrefix(tag, "zh_") {
		return LocaleZH
	}
	return LocaleEN
}

// Message keys for user-visible notes.
const (
	KeyCommandDisabled  = "command_disabled"
	KeyTooFrequent      = "too_frequent"
	KeyAlreadyExecuted  = "already_executed"
	KeyNoDiff           = "no_diff"
	KeyInternalError    = "internal_error"
	KeyTitleRequired    = "title_required"
	KeyBodyTooShort     = "body_too_short"
	KeyMissingSection   = "missing_section"
	KeyMissingIssueRef  = "missing_issue_ref"
	KeySecretWarning    = "secret_warning"
	KeyReviewFailed     = "review_failed"
	KeyPolicyReminder   = "policy_reminder"
	KeyFeedbackRecorded = "feedback_recorded"
	KeyFilesTruncated   = "files_truncated"
)

var catalogues = map[Locale]map[string]string{
	LocaleEN: {
		KeyCommandDisabled:  "The `%s` command is disabled by repository policy.",
		KeyTooFrequent:      "Command triggered too frequently, please try again later.",
		KeyAlreadyExecuted:  "This command was already executed recently; skipping duplicate run.",
		KeyNoDiff:           "No reviewable changes were found in this request.",
		KeyInternalError:    "internal execution error",
		KeyTitleRequired:    "Issue title is required",
		KeyBodyTooShort:     "Description must be at least %d characters",
		KeyMissingSection:   "Missing or empty template section: %s",
		KeyMissingIssueRef:  "Pull request description must reference an issue",
		KeySecretWarning:    "Potential secrets detected in this change set",
		KeyReviewFailed:     "Automated review failed: %s",
		KeyPolicyReminder:   "Please complete the following before this can be processed:",
		KeyFeedbackRecorded: "Feedback recorded, thank you.",
		KeyFilesTruncated:   "Warning: the file listing was truncated; only part of the change set was reviewed.",
	},
	LocaleZH: {
		KeyCommandDisabled:  "仓库策略已禁用 `%s` 命令。",
		KeyTooFrequent:      "命令触发过于频繁，请稍后再试。",
		KeyAlreadyExecuted:  "该命令近期已执行过，跳过重复运行。",
		KeyNoDiff:           "此请求中没有可审查的变更。",
		KeyInternalError:    "内部执行错误",
		KeyTitleRequired:    "标题不能为空",
		KeyBodyTooShort:     "描述至少需要 %d 个字符",
		KeyMissingSection:   "模板章节缺失或为空：%s",
		KeyMissingIssueRef:  "合并请求描述必须关联一个 issue",
		KeySecretWarning:    "此变更中检测到疑似密钥",
		KeyReviewFailed:     "自动审查失败：%s",
		KeyPolicyReminder:   "请先完成以下事项：",
		KeyFeedbackRecorded: "反馈已记录,谢谢。",
		KeyFilesTruncated:   "警告：文件列表被截断,仅审查了部分变更。",
	},
}

// T renders a localised message, formatting args into the template.
func T(locale Locale, key string, args ...any) string {
	cat, ok := catalogues[locale]
	if !ok {
		cat = catalogues[LocaleEN]
	}
	tmpl, ok := cat[key]
	if !ok {
		tmpl = catalogues[LocaleEN][key]
	}
	if tmpl == "" {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
