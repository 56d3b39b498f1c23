package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/cheqin-app/backend/internal/config"
	"github.com/cheqin-app/backend/internal/model/companion"
	"github.com/cheqin-app/backend/internal/service/realtime"
)

// 手动验货工具：跑一次完整的实时打卡会话，转写打到终端，
// 助手语音攒成 wav 写盘。
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	if !cfg.Realtime.Enabled() {
		log.Fatal("实时会话未启用，请先配置 OPENAI_API_KEY")
	}

	companionID := flag.String("companion", "mira", "陪伴角色 ID")
	duration := flag.Duration("duration", 2*time.Minute, "最长会话时长")
	audioOut := flag.String("audio-out", "", "助手语音输出文件 (默认自动生成)")
	flag.Parse()

	profile, ok := companion.NewMemoryStore(companion.Seed()).FindByID(*companionID)
	if !ok {
		log.Fatalf("未知的陪伴角色: %s", *companionID)
	}

	outputPath := *audioOut
	if outputPath == "" {
		outputPath = fmt.Sprintf("checkin-audio-%d.wav", time.Now().Unix())
	}

	var assistantPCM []byte

	capture := realtime.NewDeviceCapture()
	capture.Command = cfg.Realtime.CaptureTool

	session := realtime.New(realtime.Options{
		Broker:       realtime.NewOpenAITokenBroker(cfg.Realtime.APIKey, cfg.Realtime.SessionURL),
		Transport:    realtime.NewWebSocketTransport(cfg.Realtime.BaseURL),
		Capture:      capture,
		Model:        cfg.Realtime.Model,
		Voice:        profile.Voice,
		Instructions: profile.Instructions,
		Greeting:     profile.OpeningHint,
		IdleTimeout:  cfg.Realtime.IdleTimeout,
		MaxTurns:     cfg.Realtime.MaxTurns,
		OnEvent: func(ev realtime.Event) {
			switch ev.Kind {
			case realtime.EventConnected:
				log.Printf("会话已建立，开始说话吧")
			case realtime.EventUserTranscript:
				log.Printf("[你] %s", ev.Text)
			case realtime.EventAssistantTranscript:
				log.Printf("[%s] %s", profile.Name, ev.Text)
			case realtime.EventAssistantAudio:
				assistantPCM = append(assistantPCM, ev.Audio...)
			case realtime.EventFailed:
				log.Printf("会话失败: %v", ev.Err)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	log.Printf("开始打卡会话: companion=%s model=%s", profile.ID, cfg.Realtime.Model)
	if err := session.Start(ctx); err != nil {
		log.Fatalf("会话启动失败: %v", err)
	}

	<-session.Done()

	if err := session.Err(); err != nil {
		log.Fatalf("会话异常结束: %v", err)
	}

	fmt.Println("\n===== 完整转写 =====")
	fmt.Println(session.Transcript().Compile())

	if len(assistantPCM) > 0 {
		if err := os.WriteFile(outputPath, wavFromPCM16(assistantPCM, realtime.SampleRate), 0o644); err != nil {
			log.Fatalf("写入音频文件失败: %v", err)
		}
		log.Printf("助手语音已写入 %s (%d bytes)", outputPath, len(assistantPCM))
	}
}

// wavFromPCM16 给裸 PCM16 单声道数据加一个标准 wav 头。
func wavFromPCM16(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], channels)
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:], bitsPerSample)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
