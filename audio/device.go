package audio

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// DeviceType 设备角色位掩码，可组合
type DeviceType uint8

const (
	Record DeviceType = 1 << iota
	Playback
	Loopback

	AllDevices = Record | Playback | Loopback
)

// Has 判断是否包含全部指定角色位
func (t DeviceType) Has(bit DeviceType) bool {
	return bit != 0 && t&bit == bit
}

// Intersects 判断是否与掩码有交集
func (t DeviceType) Intersects(mask DeviceType) bool {
	return t&mask != 0
}

func (t DeviceType) String() string {
	if t == 0 {
		return "none"
	}
	var parts []string
	if t.Has(Record) {
		parts = append(parts, "record")
	}
	if t.Has(Playback) {
		parts = append(parts, "playback")
	}
	if t.Has(Loopback) {
		parts = append(parts, "loopback")
	}
	return strings.Join(parts, "|")
}

// ParseDeviceType 解析 "record", "playback", "loopback", "all" 以及用 | 或 , 组合的写法
func ParseDeviceType(s string) (DeviceType, error) {
	var t DeviceType
	for _, part := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '|' || r == ',' || r == ' '
	}) {
		switch part {
		case "record", "input":
			t |= Record
		case "playback", "output":
			t |= Playback
		case "loopback":
			t |= Loopback
		case "all":
			t |= AllDevices
		default:
			return 0, fmt.Errorf("unknown device type %q", part)
		}
	}
	if t == 0 {
		return 0, fmt.Errorf("empty device type %q", s)
	}
	return t, nil
}

// DeviceIDKind 区分设备标识的两种含义
type DeviceIDKind uint8

const (
	// IDNative 平台原生的不透明标识（ALSA hw:X,Y、WASAPI endpoint、malgo id 等）
	IDNative DeviceIDKind = iota + 1
	// IDIndex 驱动内的数字索引（PortAudio）
	IDIndex
)

// DeviceID 设备标识的标签变体，同一时刻只有一个字段有意义
type DeviceID struct {
	kind   DeviceIDKind
	native string
	index  int
}

// NativeID 创建原生不透明标识
func NativeID(id string) DeviceID {
	return DeviceID{kind: IDNative, native: id}
}

// IndexID 创建数字索引标识
func IndexID(i int) DeviceID {
	return DeviceID{kind: IDIndex, index: i}
}

func (id DeviceID) Kind() DeviceIDKind { return id.kind }

// Native 返回原生标识，ok 为 false 表示不是原生变体
func (id DeviceID) Native() (string, bool) {
	return id.native, id.kind == IDNative
}

// Index 返回数字索引，ok 为 false 表示不是索引变体
func (id DeviceID) Index() (int, bool) {
	return id.index, id.kind == IDIndex
}

func (id DeviceID) IsZero() bool { return id.kind == 0 }

func (id DeviceID) String() string {
	switch id.kind {
	case IDNative:
		return id.native
	case IDIndex:
		return "#" + strconv.Itoa(id.index)
	default:
		return "<none>"
	}
}

// Device 一个硬件端点及其角色。由 Backend 枚举产生，所有权交给调用者，
// 调用者负责 Release，不得共享。
type Device struct {
	ID      DeviceID
	Name    string
	Type    DeviceType
	Default bool

	releaseOnce sync.Once
	release     func()
	released    atomic.Bool
}

// NewDevice 创建设备，release 为驱动侧释放钩子，可为 nil
func NewDevice(id DeviceID, name string, t DeviceType, release func()) *Device {
	return &Device{ID: id, Name: name, Type: t, release: release}
}

// CanCapture 可作为输入设备
func (d *Device) CanCapture() bool {
	return d != nil && d.Type.Intersects(Record|Loopback)
}

// CanPlay 可作为输出设备
func (d *Device) CanPlay() bool {
	return d != nil && d.Type.Has(Playback)
}

// Clone 复制一份独立拥有的设备描述；原生释放钩子不会被复制
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	return &Device{ID: d.ID, Name: d.Name, Type: d.Type, Default: d.Default}
}

// Release 释放设备，可重复调用
func (d *Device) Release() {
	if d == nil {
		return
	}
	d.releaseOnce.Do(func() {
		if d.release != nil {
			d.release()
		}
		d.released.Store(true)
	})
}

// Released 是否已经释放
func (d *Device) Released() bool {
	return d != nil && d.released.Load()
}

func (d *Device) String() string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s [%s] (%s)", d.Name, d.Type, d.ID)
}

// ReleaseDevices 释放列表中的所有设备
func ReleaseDevices(devices []*Device) {
	for _, d := range devices {
		d.Release()
	}
}

// filterDevices 只保留与掩码有交集的设备，其余的就地释放
func filterDevices(devices []*Device, mask DeviceType) []*Device {
	out := devices[:0]
	for _, d := range devices {
		if d != nil && d.Type.Intersects(mask) {
			out = append(out, d)
			continue
		}
		d.Release()
	}
	return out
}

var loopbackNames = []string{"monitor of", "loopback", "stereo mix", "what u hear", "blackhole", "soundflower"}

// isLoopbackName 按名称识别以输入设备形式出现的环回源
func isLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, v := range loopbackNames {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
