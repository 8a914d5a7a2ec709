package adc

// Register offsets that are identical on every supported family. Offsets that
// move between families live in the Variant's RegMap.
const (
	offSR  = 0x00
	offCR1 = 0x04
	offCR2 = 0x08
)

// ADC_SR bits
const (
	SR_AWD   = 1 << 0
	SR_EOC   = 1 << 1
	SR_JEOC  = 1 << 2
	SR_STRT  = 1 << 4
	SR_OVR   = 1 << 5 // F2/F4/L1
	SR_ADONS = 1 << 6 // L1
	SR_RCNR  = 1 << 8 // L1
)

// ADC_CR1 bits
const (
	CR1_AWDCH_Msk = 0x1F
	CR1_EOCIE     = 1 << 5
	CR1_AWDIE     = 1 << 6
	CR1_JEOCIE    = 1 << 7
	CR1_SCAN      = 1 << 8
	CR1_DUALMOD   = 0xF << 16 // F1, 0000 = independent mode
	CR1_PDD       = 1 << 16   // L1
	CR1_PDI       = 1 << 17   // L1
	CR1_AWDEN     = 1 << 23
	CR1_RES_Msk   = 3 << 24 // F2/F4/L1, 00 = 12 bit
	CR1_OVRIE     = 1 << 26 // F2/F4/L1
)

// ADC_CR2 bits shared by all families.
const (
	CR2_ADON  = 1 << 0
	CR2_CONT  = 1 << 1
	CR2_DMA   = 1 << 8
	CR2_ALIGN = 1 << 11
)

// ADC_CR2 bits that only exist on some families.
const (
	CR2_CFG        = 1 << 2        // L1: channel bank B
	CR2_DELS_Msk   = 7 << 4        // L1
	CR2_DELS_TILRD = 1 << 4        // L1: delay until the converted data has been read
	CR2_EXTTRIG_F1 = 1 << 20       // F1
	CR2_TSVREFE_F1 = 1 << 23       // F1
	CR2_EXTEN_Msk  = 3 << 28       // F2/F4/L1
	CR2_EXTEN_RISE = 1 << 28       // F2/F4/L1
	CR2_SWSTART    = 1 << 30       // F2/F4/L1
	extselShiftF1  = 17            // F1 EXTSEL[2:0]
	extselShiftF4  = 24            // F2/F4/L1 EXTSEL[3:0]
	extselMaskF1   = 7 << 17       // F1
	extselMaskF4   = 0xF << 24     // F2/F4/L1
	tsvrefeCCR     = 1 << 23       // ADC_CCR TSVREFE (F2/F4/L1)
	ccrPrescMsk    = 3 << 16       // ADC_CCR ADCPRE
	ccrMultiMsk    = 0x1F          // F2/F4
	ccrDelayMsk    = 0xF << 8      // F2/F4
	ccrDDS         = 1 << 13       // F2/F4
	ccrDMAMsk      = 3 << 14       // F2/F4
	ccrVBATE       = 1 << 22       // F4
	smprBits       = 3             // bits per channel in ADC_SMPRx
	smprPerReg     = 10            // channels per ADC_SMPRx
	awdHighDefault = 0x00000FFF    // ADC_HTR after reset
	awdLowDefault  = 0x00000000    // ADC_LTR after reset
	rccHSION       = 1 << 0        // RCC_CR
	rccHSIRDY      = 1 << 1        // RCC_CR
	hsiPollLimit   = 30000         // RCC_CR.HSIRDY polls before giving up
	seqSlotBits    = 5             // bits per channel in ADC_SQRx
	seqSlotMsk     = 0x1F          // one ADC_SQRx slot
	seqSlotsPerReg = 6             // slots per full ADC_SQRx
	seqLenShift    = 20            // ADC_SQR1 L field
	maxSeqRegs     = 5             // L1 has SQR1..SQR5
	dataMask12     = 0x0FFF        // right aligned 12 bit result
	dataMask16     = 0xFFFF        // F1 ADC_DR low half word
	fullScale12    = 0x0FFF        // every supported part converts to 12 bits
	sampleTimeMsk  = 7             // one ADC_SMPRx field
	rcnrPollLimit  = 30000         // ADC_SR.RCNR polls before a one-shot start fails
	maxSampleTimes = 32            // L1 channel count, the largest table
	maxChannelsDMA = 16            // regular sequence length reachable with DMA on F-family
	maxChannelsL1  = 28            // regular sequence length on L1
	maxChannelsIRQ = 1             // without DMA, overruns occur past one channel
	maxChannelsCap = maxChannelsL1 // array size for per-instance buffers
)

// RegMap holds the register offsets that differ between families.
type RegMap struct {
	SMPR []uint32 // sample time registers, lowest channels first
	HTR  uint32
	LTR  uint32
	SQR  []uint32 // sequence registers in slot order, SQR1 last
	DR   uint32
}

var (
	regsF = RegMap{
		SMPR: []uint32{0x10, 0x0C}, // SMPR2 (ch 0-9), SMPR1 (ch 10-18)
		HTR:  0x24,
		LTR:  0x28,
		SQR:  []uint32{0x34, 0x30, 0x2C}, // SQR3, SQR2, SQR1
		DR:   0x4C,
	}
	regsL1 = RegMap{
		SMPR: []uint32{0x14, 0x10, 0x0C, 0x5C}, // SMPR3, SMPR2, SMPR1, SMPR0
		HTR:  0x28,
		LTR:  0x2C,
		SQR:  []uint32{0x40, 0x3C, 0x38, 0x34, 0x30}, // SQR5 .. SQR1
		DR:   0x58,
	}
)

// General purpose / advanced timer register offsets.
const (
	timCR1   = 0x00
	timCR2   = 0x04
	timEGR   = 0x14
	timCCMR1 = 0x18
	timCCMR2 = 0x1C
	timCCER  = 0x20
	timPSC   = 0x28
	timARR   = 0x2C
	timRCR   = 0x30
	timCCR1  = 0x34
	timCCR2  = 0x38
	timCCR3  = 0x3C
	timCCR4  = 0x40
	timBDTR  = 0x44
)

// Timer bits
const (
	timCR1_CEN     = 1 << 0
	timCR1_DIR     = 1 << 4
	timCR1_CMS_Msk = 3 << 5
	timCR1_ARPE    = 1 << 7
	timCR1_CKD_Msk = 3 << 8

	timCR2_MMS_Msk    = 7 << 4
	timCR2_MMS_Update = 2 << 4
	timCR2_OIS_Msk    = 0x7F << 8 // OIS1..OIS4

	timEGR_UG   = 1 << 0
	timEGR_CC1G = 1 << 1
	timEGR_CC2G = 1 << 2
	timEGR_CC3G = 1 << 3
	timEGR_CC4G = 1 << 4
	timEGR_TG   = 1 << 6

	// CCMRx: one byte per channel, CCxS[1:0] OCxPE[3] OCxM[6:4]
	timCCMR_CCS_Msk  = 3
	timCCMR_OCPE     = 1 << 3
	timCCMR_OCM_Msk  = 7 << 4
	timCCMR_OCM_PWM1 = 6 << 4
	timCCMR_ChanMsk  = timCCMR_CCS_Msk | timCCMR_OCPE | timCCMR_OCM_Msk

	// CCER: one nibble per channel, CCxE[0] CCxP[1] CCxNE[2] CCxNP[3]
	timCCER_E  = 1 << 0
	timCCER_P  = 1 << 1
	timCCER_NE = 1 << 2
	timCCER_NP = 1 << 3

	timBDTR_MOE = 1 << 15
)

// Timer divider limits.
const (
	maxReload    = 65535
	maxPrescaler = 65536
)
