package main

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"strings"
	"sync"

	"touchkbd/internal/config"
	"touchkbd/internal/core/geometry"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

const (
	previewWidth   = 900
	maxUILogLines  = 50
	keyLabelMinPad = 2
)

var (
	keyIdleColor    = color.NRGBA{R: 0x1d, G: 0x23, B: 0x2c, A: 0xff}
	keyPressedColor = color.NRGBA{R: 0xff, G: 0x66, B: 0x66, A: 0xff}
	keyBorderColor  = color.NRGBA{R: 0x2b, G: 0x33, B: 0x40, A: 0xff}
	padColor        = color.NRGBA{R: 0x7f, G: 0xd4, B: 0xa8, A: 0x33}
	errorColor      = color.NRGBA{R: 0xff, G: 0x82, B: 0x82, A: 0xff}
)

type previewTheme struct {
	base fyne.Theme
}

func newPreviewTheme() fyne.Theme {
	return &previewTheme{base: theme.DarkTheme()}
}

func (t *previewTheme) Color(name fyne.ThemeColorName, variant fyne.ThemeVariant) color.Color {
	switch name {
	case theme.ColorNameBackground:
		return color.NRGBA{R: 0x0d, G: 0x10, B: 0x14, A: 0xff}
	case theme.ColorNameHeaderBackground:
		return color.NRGBA{R: 0x12, G: 0x16, B: 0x1c, A: 0xff}
	case theme.ColorNameButton:
		return keyIdleColor
	case theme.ColorNameInputBorder, theme.ColorNameSeparator:
		return keyBorderColor
	case theme.ColorNamePrimary, theme.ColorNameHyperlink:
		return keyPressedColor
	case theme.ColorNameForeground:
		return color.NRGBA{R: 0xf2, G: 0xf4, B: 0xf8, A: 0xff}
	case theme.ColorNameError:
		return errorColor
	}
	return t.base.Color(name, variant)
}

func (t *previewTheme) Font(style fyne.TextStyle) fyne.Resource {
	return t.base.Font(style)
}

func (t *previewTheme) Icon(name fyne.ThemeIconName) fyne.Resource {
	return t.base.Icon(name)
}

func (t *previewTheme) Size(name fyne.ThemeSizeName) float32 {
	switch name {
	case theme.SizeNamePadding, theme.SizeNameInnerPadding:
		return 8
	}
	return t.base.Size(name)
}

// previewScale maps sensor coordinates onto a canvas previewWidth wide.
type previewScale struct {
	factor float32
	height float32
}

func newPreviewScale(hw geometry.HWConfig) previewScale {
	factor := float32(previewWidth) / float32(hw.ResolutionX)
	return previewScale{factor: factor, height: float32(hw.ResolutionY) * factor}
}

func (s previewScale) rect(r geometry.Rect) (fyne.Position, fyne.Size) {
	return fyne.NewPos(float32(r.MinX)*s.factor, float32(r.MinY)*s.factor),
		fyne.NewSize(float32(r.Width())*s.factor, float32(r.Height())*s.factor)
}

// keyIndex lists the regions that light up for each code, primary or
// shifted.
func keyIndex(layout *geometry.Layout) map[uint16][]int {
	index := make(map[uint16][]int)
	for i, region := range layout.Regions {
		index[region.Code] = append(index[region.Code], i)
		if region.ShiftedCode != 0 && region.ShiftedCode != region.Code {
			index[region.ShiftedCode] = append(index[region.ShiftedCode], i)
		}
	}
	return index
}

func keyLabel(region geometry.KeyRegion) string {
	name := strings.TrimPrefix(strings.ToUpper(region.Name), "KEY_")
	if name == "" {
		return formatCodeName(region.Code)
	}
	return name
}

func keyState(down bool) string {
	if down {
		return "down"
	}
	return "up"
}

func buildPreview(cfg *config.Config, hw geometry.HWConfig, layout *geometry.Layout) (fyne.CanvasObject, []*canvas.Rectangle) {
	scale := newPreviewScale(hw)
	surface := container.NewWithoutLayout()

	background := canvas.NewRectangle(color.NRGBA{R: 0x12, G: 0x16, B: 0x1c, A: 0xff})
	background.Resize(fyne.NewSize(previewWidth, scale.height))
	surface.Add(background)

	if cfg.Touchpad.Enabled {
		if region, err := hw.ToDevice(cfg.TouchpadRegion()); err == nil {
			pad := canvas.NewRectangle(padColor)
			pos, size := scale.rect(region)
			pad.Move(pos)
			pad.Resize(size)
			surface.Add(pad)
		}
	}

	keys := make([]*canvas.Rectangle, len(layout.Regions))
	for i, region := range layout.Regions {
		rect := canvas.NewRectangle(keyIdleColor)
		rect.StrokeColor = keyBorderColor
		rect.StrokeWidth = 1
		pos, size := scale.rect(region.Bounds)
		rect.Move(pos)
		rect.Resize(size)
		keys[i] = rect

		label := canvas.NewText(keyLabel(region), color.NRGBA{R: 0xf2, G: 0xf4, B: 0xf8, A: 0xff})
		label.TextSize = 10
		label.Move(pos.AddXY(keyLabelMinPad, keyLabelMinPad))
		surface.Add(rect)
		surface.Add(label)
	}

	holder := container.NewGridWrap(fyne.NewSize(previewWidth, scale.height), surface)
	return holder, keys
}

// runUI runs the keyboard in this process and shows each key it emits on a
// drawing of the layout.
func runUI(ctx context.Context, opts options, cfg *config.Config, level slog.Level) error {
	hw, layout, err := loadLayout(cfg)
	if err != nil {
		return err
	}

	fApp := app.New()
	fApp.Settings().SetTheme(newPreviewTheme())

	window := fApp.NewWindow("touchkbd")
	window.CenterOnScreen()

	preview, keys := buildPreview(cfg, hw, layout)
	index := keyIndex(layout)

	statusText := canvas.NewText("Starting keyboard...", nil)
	statusText.TextStyle = fyne.TextStyle{Bold: true}

	logGrid := widget.NewTextGrid()
	logScroll := container.NewVScroll(logGrid)
	logScroll.SetMinSize(fyne.NewSize(0, 150))

	var logMu sync.Mutex
	logLines := make([]string, 0, maxUILogLines)
	appendLogLine := func(line string) {
		logMu.Lock()
		logLines = append(logLines, line)
		if len(logLines) > maxUILogLines {
			logLines = logLines[len(logLines)-maxUILogLines:]
		}
		logText := strings.Join(logLines, "\n")
		logMu.Unlock()

		fyne.Do(func() {
			logGrid.SetText(logText)
			logScroll.ScrollToBottom()
		})
	}
	logger := newSlogLogger(os.Stderr, level, cfg.Logging.Format, modeKeyboard, appendLogLine)

	observer := func(code uint16, down bool) {
		regions := index[code]
		fyne.Do(func() {
			for _, i := range regions {
				if down {
					keys[i].FillColor = keyPressedColor
				} else {
					keys[i].FillColor = keyIdleColor
				}
				keys[i].Refresh()
			}
			statusText.Text = "Last key: " + formatCodeName(code) + " " + keyState(down)
			statusText.Refresh()
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := runKeyboard(runCtx, opts, cfg, logger, observer)
		fyne.Do(func() {
			if err != nil {
				statusText.Text = err.Error()
				statusText.Color = errorColor
			} else {
				statusText.Text = "Keyboard stopped"
			}
			statusText.Refresh()
		})
	}()
	if opts.mode == modeBoth {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := supervise(runCtx, os.Args[1:], logger, modeTouchpad); err != nil {
				logger.Error("Touchpad stopped", "err", err)
			}
		}()
	}

	var quitOnce sync.Once
	quit := func() {
		quitOnce.Do(func() {
			cancel()
			fApp.Quit()
		})
	}
	go func() {
		<-ctx.Done()
		fyne.Do(quit)
	}()
	window.SetCloseIntercept(quit)

	content := container.NewBorder(
		container.NewVBox(widget.NewLabel(fmt.Sprintf("%d keys, rotation %d", len(layout.Regions), hw.Rotation)), statusText),
		nil, nil, nil,
		container.NewVSplit(container.NewPadded(preview), widget.NewCard("Logs", "", logScroll)),
	)
	window.SetContent(content)
	window.ShowAndRun()

	cancel()
	wg.Wait()
	return nil
}
