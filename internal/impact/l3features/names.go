package l3features

// Channels are the per-sample signals features are computed over.
var Channels = []string{"accel_x", "accel_y", "accel_z", "accel_mag"}

// channelStats are the per-channel feature suffixes, in vector order.
var channelStats = []string{
	"mean",
	"std",
	"min",
	"max",
	"range",
	"energy",
	"skew",
	"kurtosis",
	"zcr",
	"jerk_mean",
	"jerk_std",
	"jerk_max_abs",
	"fft_dominant_freq",
	"fft_dominant_power",
	"fft_energy",
	"fft_entropy",
}

// CorrelationNames are the cross-axis features appended after the channels.
var CorrelationNames = []string{"corr_xy", "corr_xz", "corr_yz"}

var featureNames = buildNames()

func buildNames() []string {
	names := make([]string, 0, len(Channels)*len(channelStats)+len(CorrelationNames))
	for _, ch := range Channels {
		for _, st := range channelStats {
			names = append(names, ch+"_"+st)
		}
	}
	return append(names, CorrelationNames...)
}

// Names returns the ordered feature column names. The slice is a copy.
func Names() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// NumFeatures is the length of every feature vector.
func NumFeatures() int { return len(featureNames) }
