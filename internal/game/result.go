package game

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif" // 注册解码器
	"image/jpeg"
	_ "image/png" // 注册解码器
	"io"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/simon-game/internal/models"
)

// PictureQuality 保存照片时的 JPEG 质量
const PictureQuality = 100

// ScoreInserter 保存成绩
type ScoreInserter interface {
	Insert(ctx context.Context, record *models.ScoreRecord) error
}

// ResultState 结算表单状态
type ResultState struct {
	PlayerName                 string `json:"player_name"`
	HasPicture                 bool   `json:"has_picture"`
	SaveButtonEnabled          bool   `json:"save_button_enabled"`
	Score                      int    `json:"score"`
	HasSavedGame               bool   `json:"has_saved_game"`
	RequestingCameraPermission bool   `json:"requesting_camera_permission"`
	OpeningCamera              bool   `json:"opening_camera"`
}

// ResultForm 一局结束后的结算表单
type ResultForm struct {
	mu      sync.Mutex
	state   ResultState
	picture image.Image
	store   ScoreInserter
	now     func() time.Time
}

// NewResultForm 创建结算表单
func NewResultForm(score int, store ScoreInserter) *ResultForm {
	return &ResultForm{
		state: ResultState{Score: score},
		store: store,
		now:   time.Now,
	}
}

// State 当前表单状态
func (f *ResultForm) State() ResultState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetPlayerName 修改玩家名称，名称非空白时才允许保存
func (f *ResultForm) SetPlayerName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.PlayerName = name
	f.state.SaveButtonEnabled = strings.TrimSpace(name) != ""
}

// TakePictureResult 拍照结果，nil 表示没有拿到照片，状态不变
func (f *ResultForm) TakePictureResult(picture image.Image) {
	if picture == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.picture = picture
	f.state.HasPicture = true
}

// DeletePicture 删除照片
func (f *ResultForm) DeletePicture() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.picture = nil
	f.state.HasPicture = false
}

// OpenCamera 请求打开相机；没有权限时转为请求权限
func (f *ResultForm) OpenCamera(permissionGranted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if permissionGranted {
		f.state.OpeningCamera = true
	} else {
		f.state.RequestingCameraPermission = true
	}
}

// RequestPermissionResult 权限请求结果
func (f *ResultForm) RequestPermissionResult(granted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.OpeningCamera = granted
	f.state.RequestingCameraPermission = false
}

// CameraOpened 相机已打开
func (f *ResultForm) CameraOpened() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.OpeningCamera = false
}

// Save 编码照片并保存成绩，每个表单只能保存一次
func (f *ResultForm) Save(ctx context.Context) (*models.ScoreRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.HasSavedGame {
		return nil, ErrAlreadySaved
	}
	if !f.state.SaveButtonEnabled {
		return nil, ErrBlankPlayerName
	}

	var blob []byte
	if f.picture != nil {
		encoded, err := EncodePicture(f.picture)
		if err != nil {
			return nil, err
		}
		blob = encoded
	}

	record := &models.ScoreRecord{
		Score:         f.state.Score,
		PlayerName:    f.state.PlayerName,
		PlayerPicture: blob,
		Timestamp:     f.now().UnixMilli(),
	}
	if err := f.store.Insert(ctx, record); err != nil {
		return nil, err
	}

	f.picture = nil
	f.state.HasSavedGame = true
	return record, nil
}

// EncodePicture 以最高质量编码为 JPEG
func EncodePicture(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: PictureQuality}); err != nil {
		return nil, fmt.Errorf("编码照片失败: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePicture 解码照片；空数据表示没有照片
func DecodePicture(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("读取照片失败: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoPicture
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解码照片失败: %w", err)
	}
	return img, nil
}

// ShareText 分享文案
func ShareText(score int) string {
	return fmt.Sprintf("I just made a score of %d in Super Simon! I challenge you to beat me!", score)
}
