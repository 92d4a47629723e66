// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import "strings"

// IconCDNBase hosts the provider icons.
const IconCDNBase = "https://registry.npmmirror.com/@lobehub/icons-static-svg/latest/files/icons"

// defaultIcon is used when no provider key matches.
const defaultIcon = "openai"

// providerIcons maps a provider substring to an icon name. Order matters:
// the first key contained in the owner wins.
var providerIcons = []struct{ key, icon string }{
	{"alibaba", "alibaba-color"},
	{"amazon", "aws-color"},
	{"aws", "aws-color"},
	{"anthropic", "anthropic"},
	{"arcee-ai", "arcee-color"},
	{"arcee", "arcee-color"},
	{"bfl", "bfl"},
	{"bytedance", "bytedance-color"},
	{"cerebras", "cerebras-color"},
	{"cohere", "cohere-color"},
	{"deepseek", "deepseek-color"},
	{"google", "google-color"},
	{"groq", "groq"},
	{"inception", "inception"},
	{"kwaipilot", "kwaipilot-color"},
	{"meta", "meta-color"},
	{"llama", "meta-color"},
	{"minimax", "minimax-color"},
	{"mistral", "mistral-color"},
	{"moonshot", "moonshot"},
	{"moonshotai", "moonshot"},
	{"morph", "morph-color"},
	{"nvidia", "nvidia-color"},
	{"openai", "openai"},
	{"perplexity", "perplexity-color"},
	{"recraft", "recraft"},
	{"together", "together-color"},
	{"vercel", "vercel"},
	{"voyage", "voyage-color"},
	{"xai", "xai"},
	{"xiaomi", "xiaomimimo"},
	{"zai", "zai"},
}

// IconFor returns the icon URL for a model owner.
func IconFor(owner string) string {
	lower := strings.ToLower(owner)
	if lower != "" {
		for _, p := range providerIcons {
			if strings.Contains(lower, p.key) {
				return iconURL(p.icon)
			}
		}
	}
	return iconURL(defaultIcon)
}

func iconURL(name string) string {
	return IconCDNBase + "/" + name + ".svg"
}
