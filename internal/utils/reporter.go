package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 采集报告生成器
type Reporter struct {
	outputDir string
	report    models.GatherReport
}

// NewReporter 创建报告生成器,报告写入 <outputDir>/reports
func NewReporter(outputDir string, runID string, mode models.GatherMode) *Reporter {
	return &Reporter{
		outputDir: outputDir,
		report: models.GatherReport{
			RunID:     runID,
			Mode:      mode,
			StartTime: time.Now(),
		},
	}
}

// AddFeed 记录单个公众号的采集结果
func (r *Reporter) AddFeed(mpID, mpName string, articles int) {
	r.report.Feeds = append(r.report.Feeds, models.FeedResult{
		MpID:     mpID,
		MpName:   mpName,
		Articles: articles,
	})
	r.report.Stats.Feeds++
	r.report.Stats.Articles += articles
}

// AddError 记录单个公众号的采集错误
func (r *Reporter) AddError(mpID string, err error) {
	fe := models.FeedError{MpID: mpID, Code: models.CodeInternal, Message: err.Error()}
	if we, ok := models.AsWxError(err); ok {
		fe.Code = we.Code
		fe.Message = we.Message
		fe.Retryable = we.Retryable
	}
	r.report.Errors = append(r.report.Errors, fe)
	r.report.Stats.Failed++
}

// Report 返回当前报告
func (r *Reporter) Report() *models.GatherReport {
	return &r.report
}

// GenerateReport 结束计时并写出 gather_report.json
func (r *Reporter) GenerateReport() (string, error) {
	r.report.EndTime = time.Now()
	r.report.Duration = r.report.EndTime.Sub(r.report.StartTime).Seconds()
	r.report.Stats.Duration = r.report.Duration
	r.report.Stats.StartedAt = r.report.StartTime.Unix()

	reportsDir := filepath.Join(r.outputDir, "reports")
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	name := fmt.Sprintf("gather_report_%s.json", r.report.StartTime.Format("20060102_150405"))
	path, err := r.saveJSONReport(reportsDir, name, r.report)
	if err != nil {
		return "", err
	}

	Infof("✅ 报告已生成: %s", path)
	return path, nil
}

func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) (string, error) {
	path := filepath.Join(dir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return path, nil
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
