package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/wrenly/hearth/internal/resolve"
)

// handleStartTimer starts a Home Assistant timer after parsing the
// natural-language time expression.
func (r *Registry) handleStartTimer(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Services == nil || r.deps.Resolver == nil {
		return nil, fmt.Errorf("Home Assistant not configured")
	}

	when := stringArg(args, "when")
	action := stringArg(args, "action")
	if when == "" {
		return nil, fmt.Errorf("when is required")
	}

	spec, ok := resolve.ParseRelativeTime(when, r.deps.Now())
	if !ok {
		return nil, fmt.Errorf("无法识别时间: %s", when)
	}

	// An empty hint picks the first timer entity in the domain; most
	// installations have exactly one helper timer.
	entity, err := r.deps.Resolver.ResolveEntity(ctx, "timer", stringArg(args, "name"))
	if err != nil {
		return nil, fmt.Errorf("没有可用的定时器: %w", err)
	}

	data := map[string]any{
		"duration": fmt.Sprintf("%02d:%02d:00", spec.Minutes/60, spec.Minutes%60),
	}
	if err := r.callEntity(ctx, entity, "start", data); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("已设置%d分钟后的定时", spec.Minutes)
	if action != "" {
		msg += "：" + action
	}
	return msg, nil
}

// handleAnalyzeCamera grabs a camera snapshot and asks the vision
// model about it.
func (r *Registry) handleAnalyzeCamera(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Services == nil || r.deps.Resolver == nil || r.deps.Vision == nil {
		return nil, fmt.Errorf("camera analysis not configured")
	}

	description := stringArg(args, "description")
	if description == "" {
		return nil, fmt.Errorf("description is required")
	}

	entity, err := r.deps.Resolver.ResolveEntity(ctx, "camera", description)
	if err != nil {
		return nil, err
	}

	img, contentType, err := r.deps.Services.CameraSnapshot(ctx, entity.EntityID)
	if err != nil {
		return nil, fmt.Errorf("获取摄像头画面失败: %w", err)
	}

	question := stringArg(args, "question")
	if question == "" {
		question = "请用一两句话描述画面中的内容。"
	}

	dataURI := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img)
	answer, err := r.deps.Vision.AnalyzeImage(ctx, r.deps.VisionModel, dataURI, question)
	if err != nil {
		return nil, fmt.Errorf("画面分析失败: %w", err)
	}
	return answer, nil
}

// handleWebSearch runs a vendor web search and returns the top hits.
func (r *Registry) handleWebSearch(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Search == nil {
		return nil, fmt.Errorf("web search not configured")
	}

	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := r.deps.Search.WebSearch(ctx, r.deps.SearchEngine, query)
	if err != nil {
		return nil, fmt.Errorf("搜索失败: %w", err)
	}
	if len(results) == 0 {
		return "没有找到相关结果", nil
	}
	if len(results) > 5 {
		results = results[:5]
	}
	return results, nil
}

// handleEntityHistory summarizes an entity's recent state changes.
func (r *Registry) handleEntityHistory(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Resolver == nil || r.deps.Summarizer == nil {
		return nil, fmt.Errorf("history summarization not configured")
	}

	description := stringArg(args, "description")
	if description == "" {
		return nil, fmt.Errorf("description is required")
	}
	hours := intArg(args, "hours", 24)
	if hours <= 0 {
		hours = 24
	}

	entity, err := r.deps.Resolver.ResolveEntity(ctx, "", description)
	if err != nil {
		return nil, err
	}
	return r.deps.Summarizer.Summarize(ctx, entity, hours)
}
