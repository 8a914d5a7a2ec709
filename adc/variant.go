package adc

// Family identifies an STM32 ADC register layout.
type Family uint8

const (
	FamilyF1 Family = iota + 1 // STM32F10x
	FamilyF4                   // STM32F2xx / STM32F4xx
	FamilyL1                   // STM32L15x
)

func (f Family) String() string {
	switch f {
	case FamilyF1:
		return "stm32f1"
	case FamilyF4:
		return "stm32f4"
	case FamilyL1:
		return "stm32l1"
	default:
		return "unknown"
	}
}

// Selector identifies one physical ADC block (ADC1, ADC2, ADC3).
type Selector uint8

// MaxInstances is the number of ADC blocks any supported part carries.
const MaxInstances = 3

// Block describes where one ADC instance lives on a given part.
type Block struct {
	Base     uintptr
	IRQ      uint8
	ResetBit uint32 // bit in the shared APB2 reset register
}

// TimerID names a timer that can trigger regular conversions.
type TimerID uint8

// Variant is the capability descriptor of one STM32 family. The engine reads
// layout parameters from it instead of branching on the family.
type Variant struct {
	Name   string
	Family Family
	Regs   RegMap

	Blocks [MaxInstances]Block // indexed by Selector-1, zero Base = absent

	CommonCCR  uintptr // ADC_CCR address, 0 when the part has none
	CCRPresc   uint32  // ADCPRE value written at reset
	CCRClear   uint32  // ADC_CCR fields cleared at reset
	RCCReset   uintptr // APB2 peripheral reset register
	RCCCR      uintptr // RCC_CR, used for the HSI clock
	Timers     map[TimerID]uintptr
	AdvTimers  map[TimerID]bool
	ExtSel     map[TimerID]map[Trigger]uint32 // EXTSEL codes, unshifted
	ExtSelShft uint32
	ExtSelMask uint32
	ExtTrig    uint32 // CR2 bits that enable the external trigger
	ExtTrigMsk uint32

	SeqSlots     int    // regular sequence length limit
	SQR1Slots    int    // slots living in SQR1 next to the L field
	SeqLenMask   uint32 // width of the SQR1 L field, unshifted
	DataMask     uint32 // DR bits that carry the result
	FullScale    uint32 // largest conversion result
	MaxDMA       int    // max channels with DMA
	SampleChans  int    // entries in the sample time table
	SampleDeflt  uint8
	ResetSMPR    bool // write the sample time table during reset
	SRAllInts    uint32
	CR1AllInts   uint32
	StartSWStart uint32 // bit that starts regular conversions, 0 = re-set ADON

	HasOverrun   bool
	HasADONS     bool
	HasBank      bool
	HasPowerDown bool
	HasDelay     bool
	HasRCNR      bool // one-shot starts must wait for RCNR to clear
	HasTempRef   bool
	TempRefInCR2 bool // F1 keeps TSVREFE in CR2 instead of ADC_CCR
	NeedsHSI     bool // the converter clock is the HSI oscillator
	OnlyEOCIE    bool // receive interrupt enables EOCIE alone
	Res12Bit     bool // CR1 RES field present
}

// Block returns the descriptor of an instance or false if the part lacks it.
func (v *Variant) Block(sel Selector) (Block, bool) {
	if sel < 1 || int(sel) > MaxInstances {
		return Block{}, false
	}
	b := v.Blocks[sel-1]
	return b, b.Base != 0
}

// MaxChannels returns the channel list limit for the given transfer mode.
// total is the configured limit for interrupt mode.
func (v *Variant) MaxChannels(dma bool, total int) int {
	if dma {
		return v.MaxDMA
	}
	if total > 0 {
		if total > v.SeqSlots {
			return v.SeqSlots
		}
		return total
	}
	return maxChannelsIRQ
}

// extsel returns the shifted EXTSEL code for a timer/trigger pair.
func (v *Variant) extsel(t TimerID, trig Trigger) (uint32, bool) {
	codes, ok := v.ExtSel[t]
	if !ok {
		return 0, false
	}
	code, ok := codes[trig]
	if !ok {
		return 0, false
	}
	return code << v.ExtSelShft, true
}

// Timer instances by number.
const (
	TIM1 TimerID = 1
	TIM2 TimerID = 2
	TIM3 TimerID = 3
	TIM4 TimerID = 4
	TIM5 TimerID = 5
	TIM8 TimerID = 8
	TIM9 TimerID = 9
)

// VariantF1 describes the STM32F10x connectivity/high density parts.
var VariantF1 = &Variant{
	Name:   "stm32f1",
	Family: FamilyF1,
	Regs:   regsF,
	Blocks: [MaxInstances]Block{
		{Base: 0x40012400, IRQ: 18, ResetBit: 1 << 9},
		{Base: 0x40012800, IRQ: 18, ResetBit: 1 << 10},
		{Base: 0x40013C00, IRQ: 47, ResetBit: 1 << 15},
	},
	RCCReset: 0x4002100C,
	Timers: map[TimerID]uintptr{
		TIM1: 0x40012C00,
		TIM2: 0x40000000,
		TIM3: 0x40000400,
		TIM4: 0x40000800,
		TIM8: 0x40013400,
	},
	AdvTimers: map[TimerID]bool{TIM1: true, TIM8: true},
	ExtSel: map[TimerID]map[Trigger]uint32{
		TIM1: {TriggerCC1: 0, TriggerCC2: 1, TriggerCC3: 2},
		TIM2: {TriggerCC2: 3},
		TIM3: {TriggerTRGO: 4},
		TIM4: {TriggerCC4: 5},
		TIM8: {TriggerTRGO: 6},
	},
	ExtSelShft:   extselShiftF1,
	ExtSelMask:   extselMaskF1,
	ExtTrig:      CR2_EXTTRIG_F1,
	ExtTrigMsk:   CR2_EXTTRIG_F1,
	SeqSlots:     16,
	SQR1Slots:    4,
	SeqLenMask:   0xF,
	DataMask:     dataMask16,
	FullScale:    fullScale12,
	MaxDMA:       maxChannelsDMA,
	SampleChans:  18,
	SampleDeflt:  5, // 55.5 cycles
	ResetSMPR:    true,
	SRAllInts:    SR_AWD | SR_EOC | SR_JEOC,
	CR1AllInts:   CR1_AWDIE | CR1_EOCIE | CR1_JEOCIE,
	StartSWStart: 0,
	HasTempRef:   true,
	TempRefInCR2: true,
}

// VariantF4 describes STM32F2xx and STM32F4xx parts, which share one ADC
// interrupt and one reset bit across all three converters.
var VariantF4 = &Variant{
	Name:   "stm32f4",
	Family: FamilyF4,
	Regs:   regsF,
	Blocks: [MaxInstances]Block{
		{Base: 0x40012000, IRQ: 18, ResetBit: 1 << 8},
		{Base: 0x40012100, IRQ: 18, ResetBit: 1 << 8},
		{Base: 0x40012200, IRQ: 18, ResetBit: 1 << 8},
	},
	CommonCCR: 0x40012304,
	CCRPresc:  0, // PCLK2/2
	CCRClear:  ccrMultiMsk | ccrDelayMsk | ccrDDS | ccrDMAMsk | ccrPrescMsk | ccrVBATE | tsvrefeCCR,
	RCCReset:  0x40023824,
	Timers: map[TimerID]uintptr{
		TIM1: 0x40010000,
		TIM2: 0x40000000,
		TIM3: 0x40000400,
		TIM4: 0x40000800,
		TIM5: 0x40000C00,
		TIM8: 0x40010400,
	},
	AdvTimers: map[TimerID]bool{TIM1: true, TIM8: true},
	ExtSel: map[TimerID]map[Trigger]uint32{
		TIM1: {TriggerCC1: 0x0, TriggerCC2: 0x1, TriggerCC3: 0x2},
		TIM2: {TriggerCC2: 0x3, TriggerCC3: 0x4, TriggerCC4: 0x5, TriggerTRGO: 0x6},
		TIM3: {TriggerCC1: 0x7, TriggerTRGO: 0x8},
		TIM4: {TriggerCC4: 0x9},
		TIM5: {TriggerCC1: 0xA, TriggerCC2: 0xB, TriggerCC3: 0xC},
		TIM8: {TriggerCC1: 0xD, TriggerTRGO: 0xE},
	},
	ExtSelShft:   extselShiftF4,
	ExtSelMask:   extselMaskF4,
	ExtTrig:      CR2_EXTEN_RISE,
	ExtTrigMsk:   CR2_EXTEN_Msk,
	SeqSlots:     16,
	SQR1Slots:    4,
	SeqLenMask:   0xF,
	DataMask:     dataMask12,
	FullScale:    fullScale12,
	MaxDMA:       maxChannelsDMA,
	SampleChans:  19,
	SampleDeflt:  5, // 112 cycles
	ResetSMPR:    true,
	SRAllInts:    SR_AWD | SR_EOC | SR_JEOC | SR_OVR,
	CR1AllInts:   CR1_AWDIE | CR1_EOCIE | CR1_JEOCIE | CR1_OVRIE,
	StartSWStart: CR2_SWSTART,
	HasOverrun:   true,
	HasTempRef:   true,
	Res12Bit:     true,
}

// VariantL1 describes the STM32L15x ultra low power parts: one converter
// clocked from HSI with banked channels and a 32 entry sample time table.
var VariantL1 = &Variant{
	Name:   "stm32l1",
	Family: FamilyL1,
	Regs:   regsL1,
	Blocks: [MaxInstances]Block{
		{Base: 0x40012400, IRQ: 18, ResetBit: 1 << 9},
	},
	CommonCCR: 0x40012704,
	CCRPresc:  1 << 16, // HSI/2
	CCRClear:  ccrPrescMsk | tsvrefeCCR,
	RCCReset:  0x40023820,
	RCCCR:     0x40023800,
	Timers: map[TimerID]uintptr{
		TIM2: 0x40000000,
		TIM3: 0x40000400,
		TIM4: 0x40000800,
		TIM9: 0x40010800,
	},
	AdvTimers: map[TimerID]bool{},
	ExtSel: map[TimerID]map[Trigger]uint32{
		TIM9: {TriggerCC2: 0x0, TriggerTRGO: 0x1},
		TIM2: {TriggerCC3: 0x2, TriggerCC2: 0x3, TriggerTRGO: 0x6},
		TIM3: {TriggerTRGO: 0x4, TriggerCC1: 0x7, TriggerCC3: 0x8},
		TIM4: {TriggerCC4: 0x5, TriggerTRGO: 0x9},
	},
	ExtSelShft:   extselShiftF4,
	ExtSelMask:   extselMaskF4,
	ExtTrig:      CR2_EXTEN_RISE,
	ExtTrigMsk:   CR2_EXTEN_Msk,
	SeqSlots:     maxChannelsL1,
	SQR1Slots:    4,
	SeqLenMask:   0x1F,
	DataMask:     dataMask12,
	FullScale:    fullScale12,
	MaxDMA:       maxChannelsL1,
	SampleChans:  maxSampleTimes,
	SampleDeflt:  7, // 384 cycles
	ResetSMPR:    true,
	SRAllInts:    SR_AWD | SR_EOC | SR_JEOC | SR_OVR,
	CR1AllInts:   CR1_AWDIE | CR1_EOCIE | CR1_JEOCIE | CR1_OVRIE,
	StartSWStart: CR2_SWSTART,
	HasOverrun:   true,
	HasADONS:     true,
	HasBank:      true,
	HasPowerDown: true,
	HasDelay:     true,
	HasRCNR:      true,
	HasTempRef:   true,
	NeedsHSI:     true,
	Res12Bit:     true,
}

// VariantByName resolves a descriptor from its Name.
func VariantByName(name string) (*Variant, bool) {
	for _, v := range []*Variant{VariantF1, VariantF4, VariantL1} {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}
