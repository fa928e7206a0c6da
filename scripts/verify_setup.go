package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/shirou/gopsutil/v3/mem"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  wxgather 运行环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	goVersion := runtime.Version()
	fmt.Printf("✅ Go版本: %s\n", goVersion)
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 扫码登录与web模式依赖Chromium
	if path, ok := launcher.LookPath(); ok {
		fmt.Printf("✅ 浏览器: %s\n", path)
	} else {
		fmt.Println("⚠️  未找到本地Chrome/Chromium, 首次启动时会自动下载")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		availMB := vm.Available / 1024 / 1024
		if availMB < 512 {
			fmt.Printf("⚠️  可用内存不足: %dMB (浏览器至少需要512MB)\n", availMB)
		} else {
			fmt.Printf("✅ 可用内存: %dMB\n", availMB)
		}
	}

	fmt.Println()
	fmt.Println("检查Go模块依赖...")
	if _, err := os.Stat("go.mod"); err == nil {
		fmt.Println("✅ go.mod文件存在")
		fmt.Println("正在下载依赖...")
		if err := exec.Command("go", "mod", "download").Run(); err != nil {
			fmt.Printf("❌ go mod download失败: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ 依赖下载完成")
		}
	} else {
		fmt.Println("❌ go.mod文件不存在")
		allOK = false
	}

	fmt.Println()
	fmt.Println("检查配置与数据目录...")
	for _, f := range []string{"configs/config.yaml", "configs/feeds.yaml"} {
		if _, err := os.Stat(f); err == nil {
			fmt.Printf("✅ %s\n", f)
		} else {
			example := strings.TrimSuffix(f, ".yaml") + ".example.yaml"
			fmt.Printf("⚠️  %s 不存在, 可参考 %s\n", f, example)
		}
	}

	if err := checkWritable("data"); err != nil {
		fmt.Printf("❌ data/ 不可写: %v\n", err)
		allOK = false
	} else {
		fmt.Println("✅ data/ 可写")
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("✅ 环境验证通过!")
		fmt.Println()
		fmt.Println("下一步:")
		fmt.Println("  1. go build -o wxgather ./cmd/wxgather")
		fmt.Println("  2. ./wxgather login 扫码登录")
		fmt.Println("  3. ./wxgather gather --fakeid <fakeid>")
		os.Exit(0)
	}
	fmt.Println("❌ 环境验证失败,请解决上述问题。")
	os.Exit(1)
}

// checkWritable 创建目录并写入探测文件
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}
