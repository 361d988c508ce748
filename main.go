// sponge的命令行接口：在有损模拟链路上演示传输引擎，或通过UDP收发标准输入输出
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/junbin-yang/sponge-go/pkg/config"
	"github.com/junbin-yang/sponge-go/pkg/transport/sim"
	"github.com/junbin-yang/sponge-go/pkg/transport/udp"
	log "github.com/junbin-yang/sponge-go/pkg/utils/logger"
)

var (
	// 版本信息（编译时可通过参数注入）
	Version   = "dev"     // 版本号
	BuildTime = "unknown" // 构建时间

	// 配置相关
	cfgFile string        // 配置文件路径
	conf    config.Config // 合并文件、环境变量与命令行后的配置

	// 日志实例
	logger *log.Logger
)

// rootCmd 表示基础命令（默认命令）
var rootCmd = &cobra.Command{
	Use:   "sponge",
	Short: "sponge: TCP风格的可靠字节流传输引擎",
	Long: `sponge在不可靠的数据报之上提供有序、可靠、带流量控制的字节流。
sim子命令在确定性的有损内存链路上运行两个连接，listen/dial子命令通过UDP传输标准输入输出。`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// versionCmd 表示版本命令（用于显示版本信息）
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sponge %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// simCmd 在模拟链路上完成一次双向传输并打印统计
var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "在有损模拟链路上运行两个连接",
	RunE:  runSim,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "在UDP地址上等待一个连接，并在标准输入输出与连接之间传输数据",
	RunE:  runListen,
}

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "连接到UDP地址，并在标准输入输出与连接之间传输数据",
	RunE:  runDial,
}

func init() {
	// 全局标志（所有命令共享）
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "配置文件路径（默认是./sponge.yaml）")
	pf.String("log-level", "info", "日志级别（debug, info, warning, error, fatal）")
	pf.Int("recv-capacity", 0, "接收缓冲区容量（字节）")
	pf.Int("send-capacity", 0, "发送缓冲区容量（字节）")
	pf.Uint("rt-timeout", 0, "初始重传超时（毫秒）")
	pf.Uint("max-retx-attempts", 0, "连续重传上限")
	pf.Int("max-payload-size", 0, "单个段的最大负载（字节）")
	pf.Uint32("isn", 0, "固定初始序列号（默认随机）")

	// 将命令行标志绑定到viper（环境变量SPONGE_RT_TIMEOUT对应rt-timeout）
	for _, name := range []string{
		"log-level", "recv-capacity", "send-capacity", "rt-timeout",
		"max-retx-attempts", "max-payload-size", "isn",
	} {
		viper.BindPFlag(name, pf.Lookup(name))
	}

	// sim命令专属标志
	sf := simCmd.Flags()
	sf.Float64("loss", 0, "丢包概率")
	sf.Float64("dup", 0, "重复概率")
	sf.Float64("reorder", 0, "乱序概率")
	sf.Float64("corrupt", 0, "损坏概率")
	sf.Int64("seed", 1, "随机种子")
	sf.Int("bytes", 1<<20, "A发往B的字节数")
	sf.Int("bytes-back", 0, "B发往A的字节数")
	for _, name := range []string{"loss", "dup", "reorder", "corrupt", "seed"} {
		viper.BindPFlag("sim-"+name, sf.Lookup(name))
	}

	for _, c := range []*cobra.Command{listenCmd, dialCmd} {
		c.Flags().String("addr", "127.0.0.1:9000", "UDP地址")
		c.Flags().Duration("tick-interval", 0, "驱动引擎的定时器间隔")
	}

	// 添加子命令到根命令
	rootCmd.AddCommand(versionCmd, simCmd, listenCmd, dialCmd)
}

// initConfig 初始化配置：读取配置文件，叠加环境变量与命令行参数，初始化日志
func initConfig(cmd *cobra.Command, args []string) error {
	viper.SetEnvPrefix("SPONGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	conf = config.Default()
	if cfgFile == "" {
		if _, err := os.Stat("sponge.yaml"); err == nil {
			cfgFile = "sponge.yaml"
		}
	}
	if cfgFile != "" {
		var err error
		if conf, err = config.Load(cfgFile); err != nil {
			return err
		}
	}

	if viper.IsSet("log-level") {
		conf.Log.Level = viper.GetString("log-level")
	}
	c := &conf.Connection
	if viper.IsSet("recv-capacity") {
		c.RecvCapacity = viper.GetInt("recv-capacity")
	}
	if viper.IsSet("send-capacity") {
		c.SendCapacity = viper.GetInt("send-capacity")
	}
	if viper.IsSet("rt-timeout") {
		c.RTTimeout = viper.GetUint("rt-timeout")
	}
	if viper.IsSet("max-retx-attempts") {
		c.MaxRetxAttempts = viper.GetUint("max-retx-attempts")
	}
	if viper.IsSet("max-payload-size") {
		c.MaxPayloadSize = viper.GetInt("max-payload-size")
	}
	if viper.IsSet("isn") {
		isn := viper.GetUint32("isn")
		c.FixedISN = &isn
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	level := log.ParseLevel(conf.Log.Level)
	if conf.Log.File != nil {
		l, err := log.NewFile(*conf.Log.File, level, log.AddCaller())
		if err != nil {
			return err
		}
		logger = l
	} else {
		logger = log.New(os.Stderr, level, log.AddCaller())
	}
	log.ReplaceDefault(logger)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runSim 执行sim命令
func runSim(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	link := conf.Sim
	if viper.IsSet("sim-loss") {
		link.Loss = viper.GetFloat64("sim-loss")
	}
	if viper.IsSet("sim-dup") {
		link.Duplicate = viper.GetFloat64("sim-dup")
	}
	if viper.IsSet("sim-reorder") {
		link.Reorder = viper.GetFloat64("sim-reorder")
	}
	if viper.IsSet("sim-corrupt") {
		link.Corrupt = viper.GetFloat64("sim-corrupt")
	}
	if viper.IsSet("sim-seed") {
		link.Seed = viper.GetInt64("sim-seed")
	}
	toB, _ := cmd.Flags().GetInt("bytes")
	toA, _ := cmd.Flags().GetInt("bytes-back")

	logger.Info("start simulation",
		log.Int("bytes", toB),
		log.Int("bytes_back", toA),
		log.Int64("seed", link.Seed))

	res, err := sim.Run(ctx, sim.Config{
		Conn:      conf.Connection,
		Link:      link,
		BytesAtoB: toB,
		BytesBtoA: toA,
	}, logger)
	if res != nil {
		printResult(res)
	}
	return err
}

func printResult(r *sim.Result) {
	fmt.Printf("模拟时间: %d ms（%d 轮）\n", r.ElapsedMs, r.Rounds)
	fmt.Printf("A->B: 送达 %d 字节，A最终状态 %s\n", r.DeliveredAtoB, r.StateA)
	fmt.Printf("B->A: 送达 %d 字节，B最终状态 %s\n", r.DeliveredBtoA, r.StateB)
	for _, side := range []struct {
		name string
		st   sim.LinkStats
	}{{"A->B", r.LinkAtoB}, {"B->A", r.LinkBtoA}} {
		fmt.Printf("链路%s: 发送 %d, 送达 %d, 丢弃 %d, 重复 %d, 乱序 %d, 损坏 %d\n",
			side.name, side.st.Sent, side.st.Delivered, side.st.Dropped,
			side.st.Duplicated, side.st.Reordered, side.st.Corrupted)
	}
	fmt.Printf("重传: A %d, B %d\n", r.StatsA.Retransmissions, r.StatsB.Retransmissions)
}

func udpOptions(cmd *cobra.Command) []udp.Option {
	tick, _ := cmd.Flags().GetDuration("tick-interval")
	if tick <= 0 {
		tick = conf.UDP.TickInterval
	}
	return []udp.Option{udp.WithLogger(logger), udp.WithTickInterval(tick)}
}

// runListen 执行listen命令
func runListen(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	addr, _ := cmd.Flags().GetString("addr")
	c, err := udp.Listen(ctx, addr, conf.Connection, udpOptions(cmd)...)
	if err != nil {
		return err
	}
	return pipe(ctx, c, os.Stdin, os.Stdout)
}

// runDial 执行dial命令
func runDial(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	addr, _ := cmd.Flags().GetString("addr")
	c, err := udp.Dial(ctx, addr, conf.Connection, udpOptions(cmd)...)
	if err != nil {
		return err
	}
	return pipe(ctx, c, os.Stdin, os.Stdout)
}

// pipe 把in的数据写入连接，把连接收到的数据写入out，两个方向都结束后关闭连接
func pipe(ctx context.Context, c *udp.Conn, in io.Reader, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	go func() {
		<-gctx.Done()
		c.Close()
	}()

	g.Go(func() error {
		_, err := io.Copy(out, c)
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "receive")
	})

	// 标准输入可能一直阻塞，不放进errgroup
	sent := make(chan error, 1)
	go func() {
		_, err := io.Copy(c, in)
		if err == nil {
			err = c.Shutdown(gctx)
		}
		sent <- err
	}()
	g.Go(func() error {
		select {
		case err := <-sent:
			return errors.Wrap(err, "send")
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()
	st := c.Stats()
	logger.Info("connection finished",
		log.Uint64("bytes_sent", st.BytesWritten),
		log.Uint64("bytes_received", st.BytesDelivered),
		log.Uint64("retransmissions", st.Retransmissions))
	return multierr.Append(err, c.Close())
}

// main 函数：执行root命令
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// ./sponge sim --loss 0.1 --reorder 0.05 --bytes 1048576 --log-level debug

// ./sponge listen --addr 127.0.0.1:9000 > out.bin
// ./sponge dial --addr 127.0.0.1:9000 < in.bin
