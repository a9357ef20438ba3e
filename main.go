package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/RoaringBitmap/roaring"

	"github.com/zhukovaskychina/gistvac/logger"
	"github.com/zhukovaskychina/gistvac/server/conf"
	"github.com/zhukovaskychina/gistvac/server/innodb/engine"
	"github.com/zhukovaskychina/gistvac/server/innodb/gistvacuum"
)

const help = `
******************************************************************************************
   ____ _     _   __     __                         
  / ___(_)___| |_ \ \   / /_ _  ___ _   _ _   _ _ __ ___  
 | |  _| / __| __| \ \ / / _' |/ __| | | | | | | '_ ' _ \ 
 | |_| | \__ \ |_   \ V / (_| | (__| |_| | |_| | | | | | |
  \____|_|___/\__|   \_/ \__,_|\___|\__,_|\__,_|_| |_| |_|
******************************************************************************************
*帮助:
*1. -- help
*2. -- configPath   指定gistvac.ini配置文件，支持.ini .yaml .toml
*3. -- index        要vacuum的索引，多个用逗号分隔
*4. -- once         执行一次vacuum后退出，否则按[vacuum] schedule定时执行
*5. -- bootstrap    索引为空时先构建含N个叶子的样例索引
*6. -- deadBlocks   指向这些表页的元组视为死元组，多个用逗号分隔
******************************************************************************************
`

func main() {
	var (
		configPath string
		indexList  string
		once       bool
		bootstrap  int
		deadList   string
		showHelp   bool
	)
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.StringVar(&indexList, "index", "", "索引名称")
	flag.BoolVar(&once, "once", false, "只执行一次")
	flag.IntVar(&bootstrap, "bootstrap", 0, "样例索引的叶子数")
	flag.StringVar(&deadList, "deadBlocks", "", "死元组所在的表页")
	flag.BoolVar(&showHelp, "help", false, "帮助")
	flag.Parse()

	if showHelp || indexList == "" {
		fmt.Print(help)
		return
	}

	config, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logConfig := logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	logger.Infof("Logger initialized successfully with level: %s", config.LogLevel)

	dead, err := parseBlocks(deadList)
	if err != nil {
		logger.Fatalf("invalid -deadBlocks: %v", err)
	}
	var callback gistvacuum.BulkDeleteCallback
	if !dead.IsEmpty() {
		callback = engine.DeadHeapBlocks(dead)
	}

	gistEngine, err := engine.NewGistEngine(config)
	if err != nil {
		logger.Fatalf("start engine: %v", err)
	}
	defer func() {
		if err := gistEngine.Close(); err != nil {
			logger.Errorf("close engine: %v", err)
		}
	}()

	names := strings.Split(indexList, ",")
	for _, name := range names {
		h, err := gistEngine.OpenIndex(name)
		if err != nil {
			logger.Errorf("%v", err)
			return
		}
		if bootstrap > 0 && h.Pool().NumBlocks() == 0 {
			if err := h.BuildSampleIndex(bootstrap, 4); err != nil {
				logger.Errorf("bootstrap %s: %v", name, err)
				return
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		for _, name := range names {
			stats, err := gistEngine.Vacuum(ctx, name, callback, nil)
			if err != nil {
				logger.Errorf("vacuum %s: %v", name, err)
				continue
			}
			fmt.Printf("%s: pages=%d tuples=%d removed=%d deleted=%d free=%d unlinked=%d\n",
				name, stats.NumPages, stats.NumIndexTuples, stats.TuplesRemoved,
				stats.PagesDeleted, stats.PagesFree, stats.PagesRemoved)
		}
		return
	}

	scheduler := engine.NewVacuumScheduler(gistEngine)
	for _, name := range names {
		if err := scheduler.Register(name, config.AutovacuumSchedule, callback, nil); err != nil {
			logger.Errorf("%v", err)
			return
		}
	}
	scheduler.Start()
	<-ctx.Done()
	scheduler.Stop()
}

func parseBlocks(list string) (*roaring.Bitmap, error) {
	blocks := roaring.New()
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		blkno, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, err
		}
		blocks.Add(uint32(blkno))
	}
	return blocks, nil
}
