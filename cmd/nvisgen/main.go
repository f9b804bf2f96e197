package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/John-Robertt/nvisgen/internal/app/generate"
	"github.com/John-Robertt/nvisgen/internal/app/verify"
	"github.com/John-Robertt/nvisgen/internal/config"
	"github.com/John-Robertt/nvisgen/internal/domain"
	"github.com/John-Robertt/nvisgen/internal/infra/browser"
	"github.com/John-Robertt/nvisgen/internal/infra/netx"
	"github.com/John-Robertt/nvisgen/internal/server"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	var code int
	switch args[0] {
	case "verify":
		code = verifyCmd(args[1:])
	default:
		code = generateCmd(args)
	}
	if code != 0 {
		os.Exit(code)
	}
}

func generateCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printUsage(os.Stdout)
			return 0
		}
	}

	cli, err := parseGenerateArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printUsage(os.Stderr)
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误（%s）：%v\n", config.Code(err), err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := generate.ExecuteWithObserver(ctx, eff, newProgressUI(os.Stderr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "生成失败：%v\n", err)
		return 1
	}
	// stdout 只输出 index.html 的绝对路径，便于在管道中使用。
	fmt.Fprintln(os.Stdout, out.IndexPath)

	if !eff.Serve {
		printInstructions(os.Stderr, eff, netx.DisplayHost(eff.Bind))
		return 0
	}
	return serve(ctx, eff)
}

func serve(ctx context.Context, eff config.EffectiveConfig) int {
	gin.SetMode(gin.ReleaseMode)

	srv, err := server.Listen(server.Options{
		Root:      eff.Root,
		Bind:      eff.Bind,
		Port:      eff.Port,
		AccessLog: os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "启动服务失败：%v\n", err)
		return 1
	}

	url := viewerURL(netx.DisplayHost(eff.Bind), srv.Port())
	fmt.Fprintf(os.Stderr, "\n正在 %s 提供 %s\n", srv.Addr(), eff.Root)
	fmt.Fprintf(os.Stderr, "浏览器打开：%s\n", url)
	fmt.Fprintln(os.Stderr, "按 Ctrl+C 停止服务。")

	if eff.Open {
		// 打开命令会等待退出（例如终端浏览器），不能挡住服务启动。
		go func() {
			if err := browser.Open(url); err != nil {
				fmt.Fprintf(os.Stderr, "警告：无法自动打开浏览器：%v\n", err)
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "服务异常退出：%v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stderr, "\n服务已停止。")
	return 0
}

func verifyCmd(args []string) int {
	root := ""
	for _, a := range args {
		switch {
		case isHelp(a):
			printUsage(os.Stdout)
			return 0
		case strings.HasPrefix(a, "-"):
			fmt.Fprintf(os.Stderr, "参数错误：未知参数 %q\n\n", a)
			printUsage(os.Stderr)
			return 2
		case root != "":
			fmt.Fprintf(os.Stderr, "参数错误：重复的 root：%q 与 %q\n\n", root, a)
			printUsage(os.Stderr)
			return 2
		default:
			root = a
		}
	}
	if root == "" {
		fmt.Fprintf(os.Stderr, "参数错误：缺少 root\n\n")
		printUsage(os.Stderr)
		return 2
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析路径 %q 失败：%v\n", root, err)
		return 1
	}
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		fmt.Fprintf(os.Stderr, "root 不是可访问的目录：%s\n", abs)
		return 1
	}

	rr := verify.Execute(context.Background(), abs)
	emitReport(os.Stdout, os.Stderr, isTTY(os.Stdout), rr)
	if rr.OK() {
		return 0
	}
	return 1
}

func parseGenerateArgs(args []string) (config.CLIArgs, error) {
	cli := config.CLIArgs{}

	// value 处理 "--flag v" 与 "--flag=v" 两种写法。
	value := func(i *int, a, name string) (string, error) {
		if strings.HasPrefix(a, name+"=") {
			return strings.TrimPrefix(a, name+"="), nil
		}
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s 需要一个值", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--serve":
			cli.Serve, cli.ServeSet = true, true
		case strings.HasPrefix(a, "--serve="):
			v, err := parseBool("--serve", strings.TrimPrefix(a, "--serve="))
			if err != nil {
				return config.CLIArgs{}, err
			}
			cli.Serve, cli.ServeSet = v, true
		case a == "--open":
			cli.Open, cli.OpenSet = true, true
		case strings.HasPrefix(a, "--open="):
			v, err := parseBool("--open", strings.TrimPrefix(a, "--open="))
			if err != nil {
				return config.CLIArgs{}, err
			}
			cli.Open, cli.OpenSet = v, true
		case a == "--port" || strings.HasPrefix(a, "--port="):
			v, err := value(&i, a, "--port")
			if err != nil {
				return config.CLIArgs{}, err
			}
			p, err := strconv.Atoi(v)
			if err != nil {
				return config.CLIArgs{}, fmt.Errorf("--port 必须是整数，实际是 %q", v)
			}
			cli.Port, cli.PortSet = p, true
		case a == "--bind" || strings.HasPrefix(a, "--bind="):
			v, err := value(&i, a, "--bind")
			if err != nil {
				return config.CLIArgs{}, err
			}
			cli.Bind, cli.BindSet = v, true
		case a == "--script" || strings.HasPrefix(a, "--script="):
			v, err := value(&i, a, "--script")
			if err != nil {
				return config.CLIArgs{}, err
			}
			if v == "" {
				return config.CLIArgs{}, fmt.Errorf("--script 不能为空")
			}
			cli.Script, cli.ScriptSet = v, true
		case strings.HasPrefix(a, "-"):
			return config.CLIArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if cli.Root != "" {
				return config.CLIArgs{}, fmt.Errorf("重复的 root：%q 与 %q", cli.Root, a)
			}
			cli.Root = a
		}
	}

	if cli.Root == "" {
		return config.CLIArgs{}, errors.New("缺少 root")
	}
	return cli, nil
}

func parseBool(name, v string) (bool, error) {
	switch v {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%s 只能是 true 或 false，实际是 %q", name, v)
	}
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `用法：
  nvisgen <root> [--serve] [--port N] [--bind ADDR] [--open[=true|false]] [--script PATH]
  nvisgen verify <root>

命令：
  <root>   扫描 root 下的实验目录，生成 config.json / nvis.js / index.html
  verify   检查 root 下已生成的产物是否完整、引用的图片是否存在

参数：
  --serve     生成后在 root 上启动静态文件服务（Ctrl+C 停止）
  --port      服务端口（默认 %d）
  --bind      监听地址（默认所有网卡）
  --open      启动服务后自动打开浏览器（默认 true；--open=false 关闭）
  --script    使用自定义 viewer 脚本代替内置 nvis.js
  -h, --help  显示帮助

环境变量：%s %s %s %s（也会读取当前目录的 .env）
配置文件：<root>/%s
`, config.DefaultPort, config.EnvPort, config.EnvBind, config.EnvOpen, config.EnvScript, config.FileName)
}

func viewerURL(host string, port int) string {
	return fmt.Sprintf("http://%s/%s", hostPort(host, port), domain.IndexFileName)
}

func hostPort(host string, port int) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(port)
}

// printInstructions 告诉用户如何查看结果（未使用 --serve 时）。
func printInstructions(w io.Writer, eff config.EffectiveConfig, host string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "查看方式：在 root 上启动任意静态文件服务，例如")
	fmt.Fprintf(w, "  cd %q && python3 -m http.server %d\n", eff.Root, eff.Port)
	fmt.Fprintf(w, "然后在浏览器打开：%s\n", viewerURL(host, eff.Port))
	fmt.Fprintf(w, "或者直接加上 --serve 重新运行：nvisgen %q --serve\n", eff.Root)
}

func emitReport(stdout, stderr io.Writer, tty bool, rr domain.VerifyReport) {
	summary := fmt.Sprintf("检查完成：streams=%d images=%d issues=%d\n",
		rr.Summary.Streams, rr.Summary.Images, rr.Summary.Issues,
	)
	if tty {
		fmt.Fprint(stdout, summary)
		for _, it := range rr.Issues {
			key := it.Path
			if key == "" {
				key = "<root>"
			}
			fmt.Fprintf(stderr, "%s %s: %s\n", key, it.Code, it.Msg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 VerifyReport JSON（摘要走 stderr）。
	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rr)
	fmt.Fprint(stderr, summary)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
