// audio/interface.go
package audio

// BackendState 后端采集状态
type BackendState int

const (
	// StateIdle 没有输入设备或没有注册的缓冲区
	StateIdle BackendState = iota
	// StateCapturing 存在输入设备且至少注册了一个缓冲区
	StateCapturing
)

func (s BackendState) String() string {
	if s == StateCapturing {
		return "capturing"
	}
	return "idle"
}

// Backend 统一三种原生音频 API 的能力接口。
// 每个实例拥有活动设备、工作协程和已注册的缓冲区集合。
type Backend interface {
	// Devices 返回角色与掩码有交集的设备；原生枚举失败时返回空列表并记录日志
	Devices(mask DeviceType) []*Device

	// SetActiveInputDevice 切换输入设备，设备为 nil 或角色不符时返回 false 且状态不变
	SetActiveInputDevice(d *Device) bool
	SetActiveOutputDevice(d *Device) bool

	// ActiveInputDevice 返回当前输入设备的副本，调用者负责释放
	ActiveInputDevice() *Device
	ActiveOutputDevice() *Device

	// CheckDeviceParams 校验设备原生采样率和声道数与管线格式一致
	CheckDeviceParams(d *Device) bool

	// AddBuffer 注册缓冲区，重复注册为空操作；采集运行中也可调用
	AddBuffer(rb *RingBuffer)
	// RemoveBuffer 注销缓冲区，未注册时为空操作。返回后工作协程不会再写入 rb
	RemoveBuffer(rb *RingBuffer)

	// Capture 采集循环体，运行在后端自己启动的专用协程上，直到收到停止信号
	Capture()

	// StartPlayback 启动播放工作协程，从 PlaybackBuffer 拉取数据写入输出设备
	StartPlayback() bool
	EndPlayback()
	PlaybackBuffer() *RingBuffer

	State() BackendState
	Format() Format
	Name() string

	// Close 停止并等待所有工作协程，释放设备和驱动
	Close() error
}

// CaptureStream 一个已激活输入设备上的原生采集流
type CaptureStream interface {
	// Read 阻塞直到驱动交付一个周期，返回写入 dst 的样本数
	Read(dst []float32) (int, error)
	// Abort 使挂起的 Read 立即返回 ErrStreamAborted
	Abort()
	Close() error
}

// PlaybackStream 一个已激活输出设备上的原生播放流
type PlaybackStream interface {
	// Write 阻塞直到驱动接收了这个周期
	Write(src []float32) error
	Abort()
	Close() error
}

// Driver 每个平台的原生胶水层：枚举、格式查询和流的打开
type Driver interface {
	Name() string
	Devices(mask DeviceType) ([]*Device, error)
	DeviceFormat(d *Device) (Format, error)
	OpenCapture(d *Device, f Format, periodFrames int) (CaptureStream, error)
	OpenPlayback(d *Device, f Format, periodFrames int) (PlaybackStream, error)
	Close() error
}
